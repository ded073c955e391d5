package server

import (
	"context"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/edupoll/edupoll/pkg/logger"
)

// Push notification methods.
const (
	NotifySyncCompleted = "sync.completed"
)

// Notifier broadcasts push notifications to every connected WebSocket
// server.
type Notifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	log     logger.Logger
}

func NewNotifier(l logger.Logger) *Notifier {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Notifier{
		servers: make(map[*jrpc2.Server]struct{}),
		log:     l,
	}
}

func (n *Notifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

func (n *Notifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Broadcast sends method to all servers. Servers that fail to receive are
// dropped.
func (n *Notifier) Broadcast(method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(context.Background(), method, params); err != nil {
			n.log.Debug("rpc: push %s failed: %v", method, err)
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

// Count returns the number of connected servers.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}
