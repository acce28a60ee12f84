package eventhub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/chainrelay/chainrelay/types"
)

const (
	// EventsPath is where the event endpoint is mounted.
	EventsPath = "/events"

	defaultWriteWait = 10 * time.Second
	maxEventSize     = 16 << 20
)

// wsStream carries events as binary CBOR websocket messages.
type wsStream struct {
	conn *websocket.Conn

	writeMtx  sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}
}

var _ Stream = (*wsStream)(nil)

func newWSStream(conn *websocket.Conn) *wsStream {
	conn.SetReadLimit(maxEventSize)
	return &wsStream{conn: conn, closeCh: make(chan struct{})}
}

// DialWebsocket connects to an event endpoint at url, for example
// "ws://localhost:26660/events".
func DialWebsocket(ctx context.Context, url string) (Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newWSStream(conn), nil
}

func (s *wsStream) Send(ctx context.Context, ev *types.Event) error {
	bz, err := types.Marshal(ev)
	if err != nil {
		return err
	}

	s.writeMtx.Lock()
	defer s.writeMtx.Unlock()

	select {
	case <-s.closeCh:
		return types.ErrConnection
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, bz); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	return nil
}

func (s *wsStream) Recv(ctx context.Context) (*types.Event, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		mt, bz, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", types.ErrConnection, err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		ev := &types.Event{}
		if err := types.Unmarshal(bz, ev); err != nil {
			return nil, types.NewProtocolViolation("decoding event: %v", err)
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)

		s.writeMtx.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMtx.Unlock()

		err = s.conn.Close()
	})
	return err
}

// HandlerOptions configures the websocket endpoint.
type HandlerOptions struct {
	// AllowedOrigins lists the origins browsers may connect from. "*" allows
	// any origin. Empty means same-origin only.
	AllowedOrigins []string
	// MaxConsumers caps concurrent consumers; zero means unlimited.
	MaxConsumers int
}

// Handler returns an HTTP handler that upgrades requests to event streams and
// serves them from h.
func (h *Hub) Handler(opts HandlerOptions) http.Handler {
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// non-browser clients send no origin
			if len(opts.AllowedOrigins) == 0 || r.Header.Get("Origin") == "" {
				return true
			}
			return corsMiddleware.OriginAllowed(r)
		},
	}

	var sem chan struct{}
	if opts.MaxConsumers > 0 {
		sem = make(chan struct{}, opts.MaxConsumers)
	}

	logger := h.logger.With("endpoint", EventsPath)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sem != nil {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			default:
				http.Error(w, "too many consumers", http.StatusServiceUnavailable)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("failed to upgrade connection", "remote", r.RemoteAddr, "err", err)
			return
		}

		logger.Info("event consumer connected", "remote", r.RemoteAddr)
		if err := h.Serve(r.Context(), newWSStream(conn)); err != nil {
			logger.Debug("event stream closed", "remote", r.RemoteAddr, "err", err)
		}
	})
	return corsMiddleware.Handler(handler)
}

