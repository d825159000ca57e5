package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher downloads files over FTP. Credentials in the URL are used when
// present, anonymous login otherwise.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	host, path string
	user, pass string
}

// parseFTPURL extracts host (with port), path and login from an FTP URL.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", pass: "anonymous@"}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if t.path == "" || t.path == "/" {
		return ftpTarget{}, eris.New("fetcher: empty path in ftp url")
	}
	if u.User != nil && u.User.Username() != "" {
		t.user = u.User.Username()
		t.pass, _ = u.User.Password()
	}
	return t, nil
}

// ftpBody streams one RETR transfer. Close ends the transfer and logs out,
// so the connection lives exactly as long as the body.
type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Close() error {
	return closeFTP(b.conn, b.Response.Close())
}

// closeFTP quits conn and reports the first of cause or the quit error.
func closeFTP(conn *ftp.ServerConn, cause error) error {
	quitErr := conn.Quit()
	switch {
	case cause != nil:
		return eris.Wrap(cause, "fetcher: ftp transfer")
	case quitErr != nil:
		return eris.Wrap(quitErr, "fetcher: ftp quit")
	}
	return nil
}

// Download logs in to the server named by ftpURL and streams the file.
// Closing the returned body releases the connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("fetcher: ftp retrieve", zap.String("host", t.host), zap.String("path", t.path), zap.String("user", t.user))

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp dial %s", t.host)
	}
	if err := conn.Login(t.user, t.pass); err != nil {
		return nil, closeFTP(conn, eris.Wrap(err, "login"))
	}
	resp, err := conn.Retr(t.path)
	if err != nil {
		return nil, closeFTP(conn, eris.Wrapf(err, "retr %s", t.path))
	}
	return &ftpBody{Response: resp, conn: conn}, nil
}
