package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	fyersOrderSocketURL = "wss://socket.fyers.in/trade/v3"

	streamPingInterval = 10 * time.Second
	streamReadTimeout  = 30 * time.Second
	streamMaxBackoff   = 60 * time.Second
)

var errNoSession = errors.New("no active session token")

// OrderUpdate is one push from the broker's order socket. Only the fields
// the reconciliation loop cares about are decoded; the poll cycle remains
// the source of truth.
type OrderUpdate struct {
	BrokerName    string
	BrokerOrderID string
	RawStatus     string
	Symbol        string
}

// OrderStream holds a fyers order-update websocket open and invokes the
// registered callback on every push. The stream is an accelerator: it nudges
// the order cache to refresh early, it never mutates state itself.
type OrderStream struct {
	appID  string
	token  func() string // re-evaluated per connect, sessions rotate daily
	url    string
	dialer *websocket.Dialer

	// OnConnect and OnReconnect are optional lifecycle hooks for health
	// and metrics wiring. Set before Run.
	OnConnect   func()
	OnReconnect func()

	mu       sync.Mutex
	onUpdate func(OrderUpdate)
}

// NewOrderStream creates a disconnected stream for a fyers session.
// token is called on every connect so reconnects pick up rotated sessions.
func NewOrderStream(appID string, token func() string) *OrderStream {
	return &OrderStream{
		appID:  appID,
		token:  token,
		url:    fyersOrderSocketURL,
		dialer: websocket.DefaultDialer,
	}
}

// OnUpdate registers the callback invoked per order push. Must be set
// before Run.
func (s *OrderStream) OnUpdate(fn func(OrderUpdate)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff on any failure.
func (s *OrderStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := s.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[orderstream] disconnected: %v, reconnecting in %s", err, backoff)
		}
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}
	}
}

func (s *OrderStream) connectAndRead(ctx context.Context) error {
	tok := s.token()
	if tok == "" {
		return errNoSession
	}
	header := http.Header{}
	header.Set("Authorization", s.appID+":"+tok)

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[orderstream] connected")
	if s.OnConnect != nil {
		s.OnConnect()
	}

	// subscribe to order updates only
	sub := map[string]any{"T": "SUB_ORD", "SLIST": []string{"orderUpdate"}, "SUB_T": 1}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(streamPingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

func (s *OrderStream) dispatch(data []byte) {
	var msg struct {
		Type   string `json:"s"`
		Orders struct {
			ID     string          `json:"id"`
			Status json.RawMessage `json:"status"`
			Symbol string          `json:"symbol"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[orderstream] bad frame: %v", err)
		return
	}
	if msg.Orders.ID == "" {
		return // heartbeat or ack frame
	}

	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn == nil {
		return
	}
	fn(OrderUpdate{
		BrokerName:    "fyers",
		BrokerOrderID: msg.Orders.ID,
		RawStatus:     string(msg.Orders.Status),
		Symbol:        msg.Orders.Symbol,
	})
}
