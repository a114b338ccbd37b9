package server

import (
	"context"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/warpdl/warpload/common"
	"github.com/warpdl/warpload/pkg/loadsched"
	"github.com/warpdl/warpload/pkg/logger"
)

// pushTimeout bounds a single push to one client.
const pushTimeout = 5 * time.Second

// RPCNotifier maintains a set of connected jrpc2 WebSocket servers
// and broadcasts push notifications to all of them. It is a
// loadsched.Subscriber relaying every scheduler event.
type RPCNotifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	log     logger.Logger
}

// NewRPCNotifier creates a new notifier.
func NewRPCNotifier(l logger.Logger) *RPCNotifier {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &RPCNotifier{
		servers: make(map[*jrpc2.Server]struct{}),
		log:     l,
	}
}

// Register adds a server to the broadcast set.
func (n *RPCNotifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes a server from the broadcast set.
func (n *RPCNotifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Broadcast sends a push notification to all registered servers.
// Servers that fail to receive (e.g., disconnected) are unregistered.
func (n *RPCNotifier) Broadcast(method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		err := srv.Notify(ctx, method, params)
		cancel()
		if err != nil {
			n.log.Warning("rpc: push %s failed: %v", method, err)
			failed = append(failed, srv)
		}
	}

	if len(failed) > 0 {
		n.mu.Lock()
		for _, srv := range failed {
			delete(n.servers, srv)
		}
		n.mu.Unlock()
	}
}

// StopAll stops every registered server, closing their connections.
func (n *RPCNotifier) StopAll() {
	n.mu.Lock()
	servers := n.servers
	n.servers = make(map[*jrpc2.Server]struct{})
	n.mu.Unlock()
	for srv := range servers {
		srv.Stop()
	}
}

// Count returns the number of registered servers.
func (n *RPCNotifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

// HandleEvent implements loadsched.Subscriber.
func (n *RPCNotifier) HandleEvent(ev loadsched.Event) {
	n.Broadcast(common.EventMethodPrefix+ev.Kind.String(), common.NewEventNotification(ev))
}
