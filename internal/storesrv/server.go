// Package storesrv serves the shared realtime key-value tree over
// websockets: last-write-wins values, snapshot subscriptions, and the
// on-disconnect cleanup rules that retract a crashed client's records.
package storesrv

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/duocall/duocall/internal/adapter/driven/store/memory"
	"github.com/duocall/duocall/internal/storewire"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// TODO: restrict origins once the deployment domain is known
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	backend *memstore.Backend
}

func New(backend *memstore.Backend) *Server {
	return &Server{backend: backend}
}

func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/store", s.ServeWS)

	return r
}

// wsConn is the per-connection state: registered subscriptions and the
// paths to retract when this connection is lost.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[int64]int64 // client sub id -> backend sub id
	cleanup []string
}

func (c *wsConn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("error while upgrading ws")
		return
	}

	connID := uuid.NewString()
	l := log.With().Str("conn_id", connID).Logger()
	l.Info().Msg("store client connected")

	c := &wsConn{conn: conn, subs: make(map[int64]int64)}

	defer func() {
		c.mu.Lock()
		subs := c.subs
		c.subs = nil
		cleanup := c.cleanup
		c.mu.Unlock()

		for _, backendID := range subs {
			s.backend.Unsubscribe(backendID)
		}
		// On-disconnect rules fire here: the connection is gone, the
		// registered records go with it.
		for _, path := range cleanup {
			s.backend.Remove(path)
		}
		conn.Close()
		l.Info().Int("retracted", len(cleanup)).Msg("store client disconnected")
	}()

	for {
		var req storewire.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("unexpected close error")
			}
			break
		}
		s.handle(c, req, l)
	}
}

func (s *Server) handle(c *wsConn, req storewire.Request, l zerolog.Logger) {
	switch req.Op {
	case storewire.OpSet:
		if err := s.backend.Set(req.Path, req.Value); err != nil {
			c.write(storewire.Response{ID: req.ID, Error: err.Error()})
			return
		}
		c.write(storewire.Response{ID: req.ID, OK: true})

	case storewire.OpUpdate:
		var fields map[string]any
		if err := json.Unmarshal(req.Value, &fields); err != nil {
			c.write(storewire.Response{ID: req.ID, Error: "update value must be an object"})
			return
		}
		if err := s.backend.Update(req.Path, fields); err != nil {
			c.write(storewire.Response{ID: req.ID, Error: err.Error()})
			return
		}
		c.write(storewire.Response{ID: req.ID, OK: true})

	case storewire.OpGet:
		v := s.backend.Get(req.Path)
		if v == nil {
			v = json.RawMessage("null")
		}
		c.write(storewire.Response{ID: req.ID, OK: true, Value: v})

	case storewire.OpRemove:
		s.backend.Remove(req.Path)
		c.write(storewire.Response{ID: req.ID, OK: true})

	case storewire.OpSubscribe:
		backendID, ch := s.backend.Subscribe(req.Path)
		c.mu.Lock()
		if c.subs == nil {
			c.mu.Unlock()
			s.backend.Unsubscribe(backendID)
			return
		}
		c.subs[req.Sub] = backendID
		c.mu.Unlock()

		go func(subID int64) {
			for v := range ch {
				if err := c.write(storewire.Response{Event: storewire.EventSnapshot, Sub: subID, Value: v}); err != nil {
					return
				}
			}
		}(req.Sub)
		c.write(storewire.Response{ID: req.ID, OK: true, Sub: req.Sub})

	case storewire.OpUnsubscribe:
		c.mu.Lock()
		backendID, ok := c.subs[req.Sub]
		if ok {
			delete(c.subs, req.Sub)
		}
		c.mu.Unlock()
		if ok {
			s.backend.Unsubscribe(backendID)
		}
		c.write(storewire.Response{ID: req.ID, OK: true})

	case storewire.OpOnDisconnect:
		c.mu.Lock()
		c.cleanup = append(c.cleanup, req.Path)
		c.mu.Unlock()
		c.write(storewire.Response{ID: req.ID, OK: true})

	default:
		l.Warn().Str("op", req.Op).Msg("unknown op")
		c.write(storewire.Response{ID: req.ID, Error: "unknown op: " + req.Op})
	}
}
