// Package dedup groups products from every source of a run into identity
// clusters.
package dedup

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// Config holds the similarity parameters. They are fixed for the lifetime
// of an Engine.
type Config struct {
	Threshold    float64
	NameWeight   float64
	VendorWeight float64
}

// DefaultConfig merges at a composite score above 0.85.
func DefaultConfig() Config {
	return Config{Threshold: 0.85, NameWeight: 0.85, VendorWeight: 0.15}
}

// FromConfig converts the dedup section of the application config, falling
// back to defaults for unset values.
func FromConfig(c config.DedupConfig) Config {
	cfg := DefaultConfig()
	if c.Threshold > 0 {
		cfg.Threshold = c.Threshold
	}
	if c.NameWeight > 0 || c.VendorWeight > 0 {
		cfg.NameWeight = c.NameWeight
		cfg.VendorWeight = c.VendorWeight
	}
	return cfg
}

// Item is one product with the source it came from. Position in the input
// slice is its ingestion order.
type Item struct {
	Product model.Product
	Source  string
}

// Engine clusters products. It keeps no state between calls.
type Engine struct {
	cfg Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

type prepared struct {
	tokens []string
	vendor string
}

type edge struct {
	a, b  int
	score float64
}

// Similarity scores two products on a 0-1 scale: weighted name token
// overlap plus a vendor agreement term.
func (e *Engine) Similarity(a, b model.Product) float64 {
	return e.similarity(prepare(a), prepare(b))
}

func prepare(p model.Product) prepared {
	return prepared{tokens: Tokens(p.Name), vendor: NormalizeName(p.Vendor)}
}

func (e *Engine) similarity(a, b prepared) float64 {
	var vendor float64
	switch {
	case a.vendor == "" || b.vendor == "":
		vendor = 0.5
	case a.vendor == b.vendor:
		vendor = 1
	}
	return e.cfg.NameWeight*Jaccard(a.tokens, b.tokens) + e.cfg.VendorWeight*vendor
}

// Cluster partitions items into identity groups. Only items sharing a first
// name token are compared; duplicates that differ in their first token stay
// apart. Membership does not depend on input order.
func (e *Engine) Cluster(items []Item) []model.DedupCluster {
	if len(items) == 0 {
		return []model.DedupCluster{}
	}
	start := time.Now()

	prep := make([]prepared, len(items))
	buckets := make(map[string][]int)
	for i, it := range items {
		prep[i] = prepare(it.Product)
		if len(prep[i].tokens) == 0 {
			continue
		}
		key := prep[i].tokens[0]
		buckets[key] = append(buckets[key], i)
	}

	uf := newUnionFind(len(items))
	var edges []edge
	comparisons := 0
	for _, idx := range buckets {
		for x := 0; x < len(idx); x++ {
			for y := x + 1; y < len(idx); y++ {
				comparisons++
				s := e.similarity(prep[idx[x]], prep[idx[y]])
				if s > e.cfg.Threshold {
					uf.union(idx[x], idx[y])
					edges = append(edges, edge{a: idx[x], b: idx[y], score: s})
				}
			}
		}
	}

	groups := make(map[int][]int)
	var roots []int
	for i := range items {
		r := uf.find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	confidence := make(map[int]float64, len(roots))
	for _, ed := range edges {
		r := uf.find(ed.a)
		if c, ok := confidence[r]; !ok || ed.score < c {
			confidence[r] = ed.score
		}
	}

	rank := sourceRank(items)

	// roots are in order of each group's first member.
	clusters := make([]model.DedupCluster, 0, len(roots))
	for n, r := range roots {
		members := make([]model.ClusterMember, 0, len(groups[r]))
		for _, i := range groups[r] {
			members = append(members, model.ClusterMember{
				Product: items[i].Product,
				Source:  items[i].Source,
				Order:   i,
			})
		}
		conf, ok := confidence[r]
		if !ok {
			conf = 1
		}
		rep := Representative(members, rank)
		clusters = append(clusters, model.DedupCluster{
			ID:             n + 1,
			Members:        members,
			Representative: rep.Product.WithSource(rep.Source),
			Confidence:     conf,
		})
	}

	zap.L().Debug("dedup: clustered",
		zap.Int("products", len(items)),
		zap.Int("buckets", len(buckets)),
		zap.Int("comparisons", comparisons),
		zap.Int("clusters", len(clusters)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return clusters
}

// sourceRank maps each source to the position where it first appears.
func sourceRank(items []Item) map[string]int {
	rank := make(map[string]int)
	for i, it := range items {
		if _, ok := rank[it.Source]; !ok {
			rank[it.Source] = i
		}
	}
	return rank
}

// Representative picks the member with the most populated fields, then the
// earliest source, then the lexicographically smallest source, then the
// earliest member. A nil rank treats member order as source order.
func Representative(members []model.ClusterMember, rank map[string]int) model.ClusterMember {
	if len(members) == 0 {
		return model.ClusterMember{}
	}
	srcRank := func(m model.ClusterMember) int {
		if r, ok := rank[m.Source]; ok {
			return r
		}
		return m.Order
	}
	sorted := make([]model.ClusterMember, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if fa, fb := a.Product.PopulatedFields(), b.Product.PopulatedFields(); fa != fb {
			return fa > fb
		}
		if ra, rb := srcRank(a), srcRank(b); ra != rb {
			return ra < rb
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Order < b.Order
	})
	return sorted[0]
}

// Items flattens per-source product lists into ingestion order.
func Items(sources []string, products [][]model.Product) []Item {
	var out []Item
	for i, ps := range products {
		for _, p := range ps {
			out = append(out, Item{Product: p, Source: sources[i]})
		}
	}
	return out
}
