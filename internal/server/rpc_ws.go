package server

import (
	"context"
	"net/http"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
)

// wsChannel adapts a coder/websocket connection to jrpc2's channel.Channel.
type wsChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}

// serveWS runs one jrpc2 server per WebSocket connection and registers it
// for push notifications until the peer goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, &cws.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.log.Warning("rpc: websocket accept: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	srv := jrpc2.NewServer(s.methods, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(&wsChannel{conn: conn, ctx: ctx})
	s.notifier.Register(srv)
	defer s.notifier.Unregister(srv)

	s.log.Debug("rpc: websocket client %s connected", r.RemoteAddr)
	if err := srv.Wait(); err != nil {
		s.log.Debug("rpc: websocket client %s gone: %v", r.RemoteAddr, err)
	}
}
