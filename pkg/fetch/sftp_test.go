package fetch

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	crand "crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"

	"github.com/warpdl/warpload/pkg/loadsched"
)

type testSFTPServer struct {
	addr    string
	hostKey ssh.PublicKey
	root    string
}

func (m *testSFTPServer) url(userinfo, rel string) string {
	return fmt.Sprintf("sftp://%s@%s%s", userinfo, m.addr, filepath.ToSlash(filepath.Join(m.root, rel)))
}

// startTestSFTPServer runs an in-process SSH server with the sftp subsystem
// over a temp directory holding files.
func startTestSFTPServer(t *testing.T, files map[string]string, configure func(*ssh.ServerConfig)) *testSFTPServer {
	t.Helper()
	hostPriv, err := ecdsa.GenerateKey(elliptic.P256(), crand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	config := &ssh.ServerConfig{}
	configure(config)
	config.AddHostKey(hostSigner)

	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		os.MkdirAll(filepath.Dir(p), 0755)
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, config)
		}
	}()
	return &testSFTPServer{addr: listener.Addr().String(), hostKey: hostSigner.PublicKey(), root: root}
}

func serveSSH(conn net.Conn, config *ssh.ServerConfig) {
	defer conn.Close()
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type == "subsystem" && string(req.Payload[4:]) == "sftp" {
					req.Reply(true, nil)
					server, err := sftp.NewServer(channel)
					if err != nil {
						channel.Close()
						return
					}
					server.Serve()
					server.Close()
					return
				}
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}()
	}
}

func passwordAuth(user, pass string) func(*ssh.ServerConfig) {
	return func(c *ssh.ServerConfig) {
		c.PasswordCallback = func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(password) == pass {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		}
	}
}

func keyAuth(authorized ssh.PublicKey) func(*ssh.ServerConfig) {
	return func(c *ssh.ServerConfig) {
		c.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
}

// writeTestSSHKey writes an unencrypted private key and returns its public half.
func writeTestSSHKey(t *testing.T, dir string) (ssh.PublicKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), crand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(dir, "id_test_ecdsa")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}
	return signer.PublicKey(), keyPath
}

func fetchWithTimeout(t *testing.T, f *Fetcher, r loadsched.Resource) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Fetch(ctx, &r)
}

func TestSFTPTransport_Password(t *testing.T) {
	srv := startTestSFTPServer(t, map[string]string{"pub/notes.txt": "over ssh"}, passwordAuth("sam", "pw"))
	kh := filepath.Join(t.TempDir(), "known_hosts")
	f := newTestFetcher(t, Options{FS: afero.NewMemMapFs(), KnownHostsPath: kh})

	v, err := fetchWithTimeout(t, f, loadsched.Resource{ID: "notes", Kind: loadsched.KindText, Src: srv.url("sam:pw", "pub/notes.txt")})
	if err != nil {
		t.Fatal(err)
	}
	if v != "over ssh" {
		t.Errorf("value = %v", v)
	}

	// first use recorded the host key
	data, err := os.ReadFile(kh)
	if err != nil {
		t.Fatalf("known_hosts not written: %v", err)
	}
	if !strings.Contains(string(data), strings.TrimSpace(string(ssh.MarshalAuthorizedKey(srv.hostKey)))) {
		t.Errorf("known_hosts does not contain the server key:\n%s", data)
	}

	// second use accepts the recorded key
	if _, err := fetchWithTimeout(t, f, loadsched.Resource{ID: "again", Kind: loadsched.KindText, Src: srv.url("sam:pw", "pub/notes.txt")}); err != nil {
		t.Errorf("second fetch: %v", err)
	}
}

func TestSFTPTransport_KeyAuth(t *testing.T) {
	pub, keyPath := writeTestSSHKey(t, t.TempDir())
	srv := startTestSFTPServer(t, map[string]string{"data/k.json": `{"ok": true}`}, keyAuth(pub))
	f := newTestFetcher(t, Options{
		FS:             afero.NewMemMapFs(),
		KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts"),
		SSHKeyPath:     keyPath,
	})

	v, err := fetchWithTimeout(t, f, loadsched.Resource{ID: "k", Kind: loadsched.KindJSON, Src: srv.url("deploy", "data/k.json")})
	if err != nil {
		t.Fatal(err)
	}
	if m := v.(map[string]any); m["ok"] != true {
		t.Errorf("value = %v", v)
	}
}

func TestSFTPTransport_Errors(t *testing.T) {
	srv := startTestSFTPServer(t, map[string]string{"a.txt": "a"}, passwordAuth("sam", "pw"))
	f := newTestFetcher(t, Options{
		FS:             afero.NewMemMapFs(),
		KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts"),
		SSHKeyPath:     filepath.Join(t.TempDir(), "missing_key"),
	})

	tests := []struct {
		name      string
		src       string
		permanent bool
	}{
		{"missing file", srv.url("sam:pw", "nope.txt"), false},
		{"wrong password", srv.url("sam:bad", "a.txt"), false},
		{"no auth method", srv.url("sam", "a.txt"), true},
		{"root path", "sftp://sam:pw@" + srv.addr + "/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fetchWithTimeout(t, f, loadsched.Resource{ID: "x", Kind: loadsched.KindText, Src: tt.src})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := loadsched.IsPermanent(err); got != tt.permanent {
				t.Errorf("permanent = %v, want %v (%v)", got, tt.permanent, err)
			}
		})
	}
}

func TestSFTPTransport_HostKeyChanged(t *testing.T) {
	srv := startTestSFTPServer(t, map[string]string{"a.txt": "a"}, passwordAuth("sam", "pw"))
	kh := filepath.Join(t.TempDir(), "known_hosts")

	// pin a different key for the server's address
	otherPriv, _ := ecdsa.GenerateKey(elliptic.P256(), crand.Reader)
	otherSigner, _ := ssh.NewSignerFromKey(otherPriv)
	if err := appendKnownHost(kh, srv.addr, otherSigner.PublicKey()); err != nil {
		t.Fatal(err)
	}

	f := newTestFetcher(t, Options{FS: afero.NewMemMapFs(), KnownHostsPath: kh})
	_, err := fetchWithTimeout(t, f, loadsched.Resource{ID: "x", Kind: loadsched.KindText, Src: srv.url("sam:pw", "a.txt")})
	if err == nil || !strings.Contains(err.Error(), "host key changed") {
		t.Fatalf("Fetch() = %v, want host key mismatch", err)
	}
	if !loadsched.IsPermanent(err) {
		t.Error("a changed host key must not be retried")
	}
}

func TestResolveSSHKeyPaths(t *testing.T) {
	if got := resolveSSHKeyPaths("/keys/id"); len(got) != 1 || got[0] != "/keys/id" {
		t.Errorf("explicit = %v", got)
	}
	t.Setenv("HOME", "/home/tester")
	got := resolveSSHKeyPaths("")
	if len(got) != 2 || !strings.HasSuffix(got[0], "id_ed25519") || !strings.HasSuffix(got[1], "id_rsa") {
		t.Errorf("defaults = %v", got)
	}
}
