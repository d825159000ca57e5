package model

// ClusterMember is one product placed in a cluster, with its position in
// ingestion order.
type ClusterMember struct {
	Product Product `json:"product"`
	Source  string  `json:"source"`
	Order   int     `json:"order"`
}

// DedupCluster groups products believed to denote the same real-world item.
type DedupCluster struct {
	ID             int             `json:"id"`
	Members        []ClusterMember `json:"members"`
	Representative Product         `json:"representative"`
	Confidence     float64         `json:"confidence"`
}

// Size returns the number of members.
func (c DedupCluster) Size() int { return len(c.Members) }

// Sources lists member sources in member order, without repeats.
func (c DedupCluster) Sources() []string {
	seen := make(map[string]bool, len(c.Members))
	var out []string
	for _, m := range c.Members {
		if !seen[m.Source] {
			seen[m.Source] = true
			out = append(out, m.Source)
		}
	}
	return out
}
