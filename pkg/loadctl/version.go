package loadctl

import (
	"context"
	"fmt"
	"io"
	"os"
)

// VersionCheckEnv suppresses version mismatch warnings when set to any
// non-empty value.
const VersionCheckEnv = "WARPLOAD_SUPPRESS_VERSION_CHECK"

// CheckVersionMismatch warns on w when the server runs a different version
// than expected. It never fails the caller.
func (c *Client) CheckVersionMismatch(ctx context.Context, expected string, w io.Writer) {
	if expected == "" || os.Getenv(VersionCheckEnv) != "" {
		return
	}
	v, err := c.Version(ctx)
	if err != nil {
		fmt.Fprintf(w, "Warning: could not verify server version: %v\n", err)
		return
	}
	if v.Version != expected {
		fmt.Fprintf(w, "Warning: CLI version (%s) differs from server version (%s)\n", expected, v.Version)
	}
}
