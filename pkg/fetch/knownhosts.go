package fetch

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultKnownHostsPath returns the known_hosts file used when Options
// leaves KnownHostsPath empty: <user config dir>/warpload/known_hosts, or
// ~/.warpload/known_hosts where no config dir is defined.
func DefaultKnownHostsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "warpload", "known_hosts")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".warpload", "known_hosts")
	}
	return filepath.Join(os.TempDir(), "warpload", "known_hosts")
}

// knownHostsMu serializes appends to known_hosts files. Parallel attempts
// against different new hosts must not interleave their lines.
var knownHostsMu sync.Mutex

// newTOFUHostKeyCallback returns a trust-on-first-use host key check:
//   - known host with matching key: accept
//   - known host with a different key: reject
//   - unknown host: accept and append the key to knownHostsFile
//
// The file is re-read on every call so that keys appended by concurrent
// attempts are visible immediately.
func newTOFUHostKeyCallback(knownHostsFile string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := os.MkdirAll(filepath.Dir(knownHostsFile), 0700); err != nil {
			return fmt.Errorf("sftp: failed to create known_hosts directory: %w", err)
		}

		if _, err := os.Stat(knownHostsFile); err == nil {
			cb, loadErr := knownhosts.New(knownHostsFile)
			if loadErr != nil {
				return fmt.Errorf("sftp: failed to load known_hosts: %w", loadErr)
			}
			err := cb(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if !errors.As(err, &keyErr) {
				return err
			}
			if len(keyErr.Want) > 0 {
				return NewPermanentError("sftp", "hostkey", fmt.Errorf(
					"host key changed for %s (got %s); remove the old entry from %s if this is expected",
					hostname, ssh.FingerprintSHA256(key), knownHostsFile))
			}
		}
		return appendKnownHost(knownHostsFile, hostname, key)
	}
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("sftp: failed to write known_hosts: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	_, err = fmt.Fprintln(f, line)
	return err
}
