// Package redis mirrors order lifecycle events and balance snapshots into
// Redis for dashboards and external consumers. SQLite remains the source
// of truth; everything here is a best-effort live view behind a circuit
// breaker, with events buffered locally while the breaker is open.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-execv1/internal/model"
)

const (
	orderStream    = "exec:orders:events"
	streamMaxLen   = 10000
	latestTTL      = 30 * time.Minute
	defaultMaxBuf  = 10000
	orderPubSubCh  = "pub:exec:orders"
)

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// OrderEvent is one lifecycle change published to the stream.
type OrderEvent struct {
	Event string      `json:"event"` // placed, status, closed, exit_all, ...
	Order model.Order `json:"order"`
	At    string      `json:"at"` // RFC 3339
}

// Publisher writes order events and balance snapshots to Redis through a
// circuit breaker. While the breaker is open, events are buffered and
// replayed on close; the oldest events drop first when the buffer fills.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker

	// OnBreakerChange is an optional observer for metrics wiring. The
	// breaker's own OnStateChange is reserved for the replay flush.
	OnBreakerChange func(from, to State)

	mu     sync.Mutex
	buffer [][]byte
	maxBuf int

	ctx context.Context
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New connects, pings, and wires the breaker's flush-on-close callback.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)

	p := &Publisher{
		client: client,
		cb:     NewCircuitBreaker(5, 10*time.Second),
		buffer: make([][]byte, 0, 256),
		maxBuf: defaultMaxBuf,
		ctx:    ctx,
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s → %s", from, to)
		if to == StateClosed {
			go p.flush()
		}
		if p.OnBreakerChange != nil {
			p.OnBreakerChange(from, to)
		}
	}
	return p, nil
}

// PublishOrderEvent mirrors one order lifecycle change. Never returns an
// error to the caller: delivery is best effort and buffered on breaker
// open.
func (p *Publisher) PublishOrderEvent(event string, o model.Order) {
	ev := OrderEvent{Event: event, Order: o, At: time.Now().UTC().Format(time.RFC3339Nano)}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[redis] marshal order event: %v", err)
		return
	}
	err = p.cb.Execute(func() error {
		return p.write(data, o.ID)
	})
	if err == ErrCircuitOpen {
		p.bufferEvent(data)
		return
	}
	if err != nil {
		log.Printf("[redis] publish order event: %v", err)
	}
}

// PublishBalance mirrors the latest funds snapshot for a broker.
func (p *Publisher) PublishBalance(b model.BalanceSummary) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	err = p.cb.Execute(func() error {
		key := "exec:balance:latest:" + b.BrokerName
		return p.client.Set(p.ctx, key, data, latestTTL).Err()
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] publish balance for %s: %v", b.BrokerName, err)
	}
}

// write performs the XADD + SET latest + PUBLISH pipeline for one event.
func (p *Publisher) write(data []byte, orderID int64) error {
	pipe := p.client.Pipeline()
	pipe.XAdd(p.ctx, &goredis.XAddArgs{
		Stream: orderStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	})
	if orderID > 0 {
		latestKey := "exec:order:latest:" + strconv.FormatInt(orderID, 10)
		pipe.Set(p.ctx, latestKey, data, latestTTL)
	}
	pipe.Publish(p.ctx, orderPubSubCh, data)
	_, err := pipe.Exec(p.ctx)
	return err
}

func (p *Publisher) bufferEvent(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, data)
}

// flush replays buffered events after the breaker closes. Replayed events
// skip the latest-key update: by the time the buffer drains, a fresher
// state may already be published.
func (p *Publisher) flush() {
	p.mu.Lock()
	toFlush := p.buffer
	p.buffer = make([][]byte, 0, 256)
	p.mu.Unlock()
	if len(toFlush) == 0 {
		return
	}
	for _, data := range toFlush {
		if err := p.write(data, 0); err != nil {
			log.Printf("[redis] flush replay: %v", err)
		}
	}
	log.Printf("[redis] flushed %d buffered events", len(toFlush))
}

// PendingCount returns the number of buffered events awaiting replay.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
