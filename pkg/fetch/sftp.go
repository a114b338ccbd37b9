package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sftpTransport reads files over SSH. Password auth is used when the URL
// carries one; otherwise the configured key, or ~/.ssh/id_ed25519 and
// ~/.ssh/id_rsa, in that order.
type sftpTransport struct {
	knownHostsPath string
	keyPath        string
	dialTimeout    time.Duration
}

// sftpBody owns the whole connection stack behind one remote file.
type sftpBody struct {
	*sftp.File
	client *sftp.Client
	conn   *ssh.Client
	stop   func() bool
}

func (b *sftpBody) Close() error {
	b.stop()
	err := b.File.Close()
	b.client.Close()
	b.conn.Close()
	return err
}

func (t *sftpTransport) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if u.Path == "" || u.Path == "/" {
		return nil, NewPermanentError("sftp", "open", fmt.Errorf("empty or root path in SFTP URL: file path is required"))
	}
	var user, password string
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}
	auth, err := buildAuthMethods(password, t.keyPath)
	if err != nil {
		return nil, NewPermanentError("sftp", "auth", err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "22")
	}

	var hostKeyErr error
	tofu := newTOFUHostKeyCallback(t.knownHostsPath)
	config := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			hostKeyErr = tofu(hostname, remote, key)
			return hostKeyErr
		},
		Timeout: t.dialTimeout,
	}
	d := net.Dialer{Timeout: t.dialTimeout}
	raw, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, classify("sftp", "connect", err)
	}
	// the SSH handshake does not take a context; closing the socket aborts it
	stop := context.AfterFunc(ctx, func() { raw.Close() })

	c, chans, reqs, err := ssh.NewClientConn(raw, host, config)
	if err != nil {
		stop()
		raw.Close()
		if hostKeyErr != nil {
			return nil, classify("sftp", "hostkey", hostKeyErr)
		}
		return nil, classify("sftp", "handshake", ctxErr(ctx, err))
	}
	conn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		stop()
		conn.Close()
		return nil, classify("sftp", "subsystem", ctxErr(ctx, err))
	}
	f, err := client.Open(u.Path)
	if err != nil {
		stop()
		client.Close()
		conn.Close()
		return nil, classify("sftp", "open", ctxErr(ctx, err))
	}
	return &sftpBody{File: f, client: client, conn: conn, stop: stop}, nil
}

// ctxErr prefers the context's error when the failure was caused by the
// socket being closed on cancellation.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}

func buildAuthMethods(password, keyPath string) ([]ssh.AuthMethod, error) {
	if password != "" {
		return []ssh.AuthMethod{ssh.Password(password)}, nil
	}

	keyPaths := resolveSSHKeyPaths(keyPath)
	for _, kp := range keyPaths {
		pemBytes, err := os.ReadFile(kp)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, fmt.Errorf("SSH key %q is passphrase-protected; passphrase-protected keys are not supported", kp)
			}
			continue
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("no authentication method available: provide a password in the URL or an SSH key at %s", strings.Join(keyPaths, ", "))
}

// resolveSSHKeyPaths returns explicitPath alone when set, otherwise the
// default key locations.
func resolveSSHKeyPaths(explicitPath string) []string {
	if explicitPath != "" {
		return []string{explicitPath}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}
