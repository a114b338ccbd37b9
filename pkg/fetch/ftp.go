package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpTransport retrieves files over FTP, or FTPS with explicit TLS.
// Each Open dials its own control connection; credentials come from the URL
// userinfo and default to anonymous.
type ftpTransport struct {
	dialTimeout time.Duration
	tlsConfig   *tls.Config
}

// ftpBody closes the data transfer and then the control connection.
type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Close() error {
	err := b.Response.Close()
	if qerr := b.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

func (t *ftpTransport) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	proto := strings.ToLower(u.Scheme)
	if u.Path == "" || u.Path == "/" {
		return nil, NewPermanentError(proto, "open", fmt.Errorf("empty or root path in FTP URL: file path is required"))
	}

	user, password := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			password = p
		}
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}

	opts := []ftp.DialOption{
		ftp.DialWithTimeout(t.dialTimeout),
		ftp.DialWithContext(ctx),
	}
	if proto == "ftps" {
		cfg := &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}
		if t.tlsConfig != nil {
			cfg = t.tlsConfig.Clone()
		}
		opts = append(opts, ftp.DialWithExplicitTLS(cfg))
	}

	conn, err := ftp.Dial(host, opts...)
	if err != nil {
		return nil, classify(proto, "connect", err)
	}
	if err := conn.Login(user, password); err != nil {
		conn.Quit()
		return nil, classify(proto, "login", err)
	}
	resp, err := conn.Retr(u.Path)
	if err != nil {
		conn.Quit()
		return nil, classify(proto, "retr", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		resp.SetDeadline(deadline)
	}
	return &ftpBody{Response: resp, conn: conn}, nil
}
