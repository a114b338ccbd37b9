package fetch

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestTOFUHostKeyCallback(t *testing.T) {
	kh := filepath.Join(t.TempDir(), "sub", "known_hosts")
	cb := newTOFUHostKeyCallback(kh)
	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 2222}
	key := testHostKey(t)

	if err := cb("assets.internal:2222", addr, key); err != nil {
		t.Fatalf("first use rejected: %v", err)
	}
	data, err := os.ReadFile(kh)
	if err != nil {
		t.Fatalf("known_hosts not created: %v", err)
	}
	if !strings.HasPrefix(string(data), "[assets.internal]:2222 ") {
		t.Errorf("unexpected entry: %q", data)
	}

	if err := cb("assets.internal:2222", addr, key); err != nil {
		t.Errorf("known key rejected: %v", err)
	}

	err = cb("assets.internal:2222", addr, testHostKey(t))
	if err == nil || !strings.Contains(err.Error(), "host key changed") {
		t.Errorf("changed key accepted: %v", err)
	}

	if err := cb("other.internal:22", addr, testHostKey(t)); err != nil {
		t.Errorf("second unknown host rejected: %v", err)
	}
	data, _ = os.ReadFile(kh)
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("expected 2 entries, got %d:\n%s", n, data)
	}
}

func TestAppendKnownHost_Concurrent(t *testing.T) {
	kh := filepath.Join(t.TempDir(), "known_hosts")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := appendKnownHost(kh, net.JoinHostPort("10.0.0.1", "22"), testHostKey(t)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	data, _ := os.ReadFile(kh)
	if n := strings.Count(string(data), "\n"); n != 10 {
		t.Errorf("expected 10 intact lines, got %d", n)
	}
}

func TestDefaultKnownHostsPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/warpload-cfg")
	t.Setenv("HOME", "/tmp/warpload-home")
	p := DefaultKnownHostsPath()
	if filepath.Base(p) != "known_hosts" {
		t.Fatalf("path = %q", p)
	}
	if !strings.Contains(p, "warpload") {
		t.Fatalf("path %q not under a warpload directory", p)
	}
}
