// Package common provides shared types and constants used across the
// warpload control client and server.
package common

import (
	"os"
	"strings"
)

// Environment variable names for configuration.
const (
	// RPCSecretEnv holds the bearer token of the control server.
	RPCSecretEnv = "WARPLOAD_RPC_SECRET"

	// RPCListenEnv overrides the control server address.
	RPCListenEnv = "WARPLOAD_RPC_LISTEN"

	// HistoryDBEnv is the path of the run history database.
	HistoryDBEnv = "WARPLOAD_HISTORY_DB"

	// KnownHostsEnv overrides the SFTP known_hosts file.
	KnownHostsEnv = "WARPLOAD_KNOWN_HOSTS"

	// SSHKeyEnv overrides the SFTP private key.
	SSHKeyEnv = "WARPLOAD_SSH_KEY"
)

// DefaultRPCListen is the control server address when none is configured.
const DefaultRPCListen = "127.0.0.1:9730"

// Getenv returns the trimmed value of key, or def when it is unset or blank.
func Getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
