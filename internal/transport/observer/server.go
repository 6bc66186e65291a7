// Package observer serves the live record feed: every line appended to the
// period log is pushed to loopback websocket subscribers.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"splogs.io/internal/observerproto"
	"splogs.io/internal/telemetry/scanner"
)

// StatsSource is satisfied by *scanner.Scanner.
type StatsSource interface {
	Stats() scanner.Stats
}

const maxBacklog = 1024

type Server struct {
	hub   *Hub
	stats StatsSource
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, stats StatsSource, logger *log.Logger) *Server {
	return &Server{
		hub:   hub,
		stats: stats,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see WSHandler
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		st := s.currentStats()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			World:           st.World,
			WorldSize:       st.WorldSize,
			Period:          st.Period,
			Running:         st.Running,
			FrameCount:      st.FrameCount,
			LastSeq:         s.hub.LastSeq(),
			Subscribers:     s.hub.Subscribers(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		filter := &kindFilter{}
		filter.set(sub.Kinds)

		sid := uuid.NewString()
		st := s.currentStats()
		if err := writeJSON(conn, observerproto.HelloMsg{
			Type:            observerproto.TypeHello,
			ProtocolVersion: observerproto.Version,
			SessionID:       sid,
			World:           st.World,
			Period:          st.Period,
			FrameCount:      st.FrameCount,
		}); err != nil {
			return
		}

		feed, backlog := s.hub.Subscribe(clampBacklog(sub.Backlog))
		defer feed.Close()
		s.printf("feed %s subscribed kinds=%v backlog=%d", sid, sub.Kinds, len(backlog))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for _, e := range backlog {
				if err := sendEntry(conn, filter, e); err != nil {
					writeErr <- err
					cancel()
					return
				}
			}
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case e := <-feed.C():
					if n := feed.TakeDropped(); n > 0 {
						if err := writeJSON(conn, observerproto.LagMsg{Type: observerproto.TypeLag, Dropped: n}); err != nil {
							writeErr <- err
							cancel()
							return
						}
					}
					if err := sendEntry(conn, filter, e); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates to the kind filter.
		go func() {
			<-ctx.Done()
			_ = conn.SetReadDeadline(time.Now())
		}()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if upd, ok := decodeSubscribe(msg); ok {
				filter.set(upd.Kinds)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.printf("feed %s closed", sid)
	}
}

func (s *Server) currentStats() scanner.Stats {
	if s.stats == nil {
		return scanner.Stats{}
	}
	return s.stats.Stats()
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

type kindFilter struct {
	mu    sync.RWMutex
	kinds map[string]bool
}

func (f *kindFilter) set(kinds []string) {
	m := map[string]bool{}
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			m[k] = true
		}
	}
	f.mu.Lock()
	f.kinds = m
	f.mu.Unlock()
}

func (f *kindFilter) allows(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.kinds) == 0 || f.kinds[kind]
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func clampBacklog(n int) int {
	if n < 0 {
		return 0
	}
	if n > maxBacklog {
		return maxBacklog
	}
	return n
}

func sendEntry(conn *websocket.Conn, filter *kindFilter, e Entry) error {
	if !filter.allows(e.Kind) {
		return nil
	}
	return writeJSON(conn, observerproto.RecordMsg{
		Type: observerproto.TypeRecord,
		Seq:  e.Seq,
		Kind: e.Kind,
		Line: json.RawMessage(e.Line),
	})
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
