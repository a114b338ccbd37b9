package loadctl

import (
	"errors"

	"github.com/creachadair/jrpc2"
	"github.com/warpdl/warpload/common"
)

// ErrUnauthorized is returned by Dial when the server rejects the secret.
var ErrUnauthorized = errors.New("unauthorized: check the RPC secret")

// IsRunNotActive reports whether err is the server refusing a control call
// because no run is in progress.
func IsRunNotActive(err error) bool {
	return jrpc2.ErrorCode(err) == jrpc2.Code(common.CodeRunNotActive)
}
