package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-execv1/internal/model"
)

// Result carries one broker's outcome of a fan-out call. A fan-out never
// aborts on a single broker failure; the aggregate map always holds an
// entry per broker, success or error.
type Result struct {
	Ack OrderAck
	Err error
}

// Manager owns the authenticated broker adapters and isolates per-broker
// failures. All fan-out calls run concurrently with a bounded per-call
// timeout so one slow broker never stalls the others.
type Manager struct {
	mu        sync.RWMutex
	brokers   map[string]Broker
	ids       map[string]int64 // broker name → DB broker id
	authed    map[string]bool
	suspended map[string]string // broker name → suspension reason

	timeout time.Duration
}

// NewManager creates an empty manager. timeout bounds every broker call.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Manager{
		brokers:   make(map[string]Broker),
		ids:       make(map[string]int64),
		authed:    make(map[string]bool),
		suspended: make(map[string]string),
		timeout:   timeout,
	}
}

// Register adds a broker adapter under its DB identity. Registration does
// not authenticate; call Setup or Reauthenticate for that.
func (m *Manager) Register(id int64, b Broker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokers[b.Name()] = b
	m.ids[b.Name()] = id
}

// Setup logs in every registered broker. A login failure is fatal for that
// broker only: it stays unauthenticated and the rest continue.
func (m *Manager) Setup(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.brokers))
	for name := range m.brokers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.Reauthenticate(ctx, name); err != nil {
			log.Printf("[brokermanager] login failed for %s: %v", name, err)
		}
	}
	log.Printf("[brokermanager] setup complete: %d/%d brokers authenticated",
		len(m.ActiveBrokers()), len(names))
}

// Reauthenticate re-runs login for one broker and updates its auth state.
func (m *Manager) Reauthenticate(ctx context.Context, name string) error {
	m.mu.RLock()
	b, ok := m.brokers[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("broker %q not registered", name)
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := b.Login(cctx)

	m.mu.Lock()
	m.authed[name] = err == nil
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("login %s: %w", name, err)
	}
	log.Printf("[brokermanager] authenticated %s", name)
	return nil
}

// ReauthenticateAll re-runs login for every registered broker.
func (m *Manager) ReauthenticateAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.brokers))
	for name := range m.brokers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	for _, name := range names {
		if err := m.Reauthenticate(ctx, name); err != nil {
			log.Printf("[brokermanager] reauth failed for %s: %v", name, err)
		}
	}
}

// Suspend blocks a broker from new entries (risk breach). Existing
// positions remain visible; exits still go through.
func (m *Manager) Suspend(name, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended[name] = reason
	log.Printf("[brokermanager] suspended %s: %s", name, reason)
}

// Resume lifts a suspension (manual re-enable).
func (m *Manager) Resume(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.suspended, name)
	log.Printf("[brokermanager] resumed %s", name)
}

// IsSuspended reports whether new entries are blocked for the broker.
func (m *Manager) IsSuspended(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.suspended[name]
	return ok
}

// BrokerID resolves a broker name to its DB identity.
func (m *Manager) BrokerID(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ids[name]
}

// Broker returns the adapter for name if it is authenticated.
func (m *Manager) Broker(name string) (Broker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.brokers[name]
	if !ok || !m.authed[name] {
		return nil, false
	}
	return b, true
}

// ActiveBrokers returns the authenticated brokers, including suspended
// ones: suspension gates entries only, which EntryBrokers enforces.
func (m *Manager) ActiveBrokers() map[string]Broker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Broker, len(m.brokers))
	for name, b := range m.brokers {
		if m.authed[name] {
			out[name] = b
		}
	}
	return out
}

// EntryBrokers returns the brokers eligible for new entries.
func (m *Manager) EntryBrokers() map[string]Broker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Broker, len(m.brokers))
	for name, b := range m.brokers {
		if m.authed[name] {
			if _, susp := m.suspended[name]; !susp {
				out[name] = b
			}
		}
	}
	return out
}

// call runs fn under the manager's per-call timeout.
func (m *Manager) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return fn(cctx)
}

// PlaceOrder fans an entry out to every entry-eligible broker. build
// produces the per-broker request (symbol spelling and order defaults
// differ per broker). Each broker's failure is isolated into its Result.
func (m *Manager) PlaceOrder(ctx context.Context, build func(name string) (model.OrderRequest, error)) map[string]Result {
	brokers := m.EntryBrokers()
	results := make(map[string]Result, len(brokers))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, b := range brokers {
		wg.Add(1)
		go func(name string, b Broker) {
			defer wg.Done()
			var res Result
			req, err := build(name)
			if err != nil {
				res.Err = fmt.Errorf("build request for %s: %w", name, err)
			} else if err := req.Validate(); err != nil {
				res.Err = err
			} else {
				res.Err = m.call(ctx, func(cctx context.Context) error {
					ack, err := b.PlaceOrder(cctx, req)
					res.Ack = ack
					return err
				})
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, b)
	}
	wg.Wait()
	return results
}

// ExitOrder fans exits out to the brokers named in params.
func (m *Manager) ExitOrder(ctx context.Context, params map[string]ExitParams) map[string]Result {
	results := make(map[string]Result, len(params))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, p := range params {
		b, ok := m.Broker(name)
		if !ok {
			results[name] = Result{Err: fmt.Errorf("broker %q not authenticated", name)}
			continue
		}
		wg.Add(1)
		go func(name string, b Broker, p ExitParams) {
			defer wg.Done()
			var res Result
			res.Err = m.call(ctx, func(cctx context.Context) error {
				ack, err := b.ExitOrder(cctx, p)
				res.Ack = ack
				return err
			})
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, b, p)
	}
	wg.Wait()
	return results
}

// CancelOrder cancels a single broker order.
func (m *Manager) CancelOrder(ctx context.Context, name, brokerOrderID, symbol, productType, variety string) error {
	b, ok := m.Broker(name)
	if !ok {
		return fmt.Errorf("broker %q not authenticated", name)
	}
	return m.call(ctx, func(cctx context.Context) error {
		return b.CancelOrder(cctx, brokerOrderID, symbol, productType, variety)
	})
}

// GetAllBrokerPositions fetches net positions from every authenticated
// broker. Failed brokers are reported in errs and omitted from positions.
func (m *Manager) GetAllBrokerPositions(ctx context.Context) (map[string][]model.BrokerPosition, map[string]error) {
	brokers := m.ActiveBrokers()
	positions := make(map[string][]model.BrokerPosition, len(brokers))
	errs := make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, b := range brokers {
		wg.Add(1)
		go func(name string, b Broker) {
			defer wg.Done()
			var pos []model.BrokerPosition
			err := m.call(ctx, func(cctx context.Context) error {
				var err error
				pos, err = b.GetPositions(cctx)
				return err
			})
			mu.Lock()
			if err != nil {
				errs[name] = err
			} else {
				positions[name] = pos
			}
			mu.Unlock()
		}(name, b)
	}
	wg.Wait()
	return positions, errs
}

// GetAllOrderDetails fetches the live order listing from every
// authenticated broker.
func (m *Manager) GetAllOrderDetails(ctx context.Context) (map[string][]model.BrokerOrderDetail, map[string]error) {
	brokers := m.ActiveBrokers()
	orders := make(map[string][]model.BrokerOrderDetail, len(brokers))
	errs := make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, b := range brokers {
		wg.Add(1)
		go func(name string, b Broker) {
			defer wg.Done()
			var list []model.BrokerOrderDetail
			err := m.call(ctx, func(cctx context.Context) error {
				var err error
				list, err = b.GetOrderDetails(cctx)
				return err
			})
			mu.Lock()
			if err != nil {
				errs[name] = err
			} else {
				orders[name] = list
			}
			mu.Unlock()
		}(name, b)
	}
	wg.Wait()
	return orders, errs
}

// GetSymbolInfo resolves a canonical symbol through one named broker.
func (m *Manager) GetSymbolInfo(ctx context.Context, name, symbol, instrumentType string) (SymbolInfo, error) {
	b, ok := m.Broker(name)
	if !ok {
		return SymbolInfo{}, fmt.Errorf("broker %q not authenticated", name)
	}
	var info SymbolInfo
	err := m.call(ctx, func(cctx context.Context) error {
		var err error
		info, err = b.GetSymbolInfo(cctx, symbol, instrumentType)
		return err
	})
	return info, err
}

// GetLTP fetches the last traded price from the first broker that answers.
// Mirrors the original data-broker fallback: any authenticated broker can
// serve quotes.
func (m *Manager) GetLTP(ctx context.Context, symbol string) (float64, error) {
	var lastErr error
	for name, b := range m.ActiveBrokers() {
		var ltp float64
		err := m.call(ctx, func(cctx context.Context) error {
			var err error
			ltp, err = b.GetLTP(cctx, symbol)
			return err
		})
		if err == nil && ltp > 0 {
			return ltp, nil
		}
		if err != nil {
			lastErr = fmt.Errorf("ltp via %s: %w", name, err)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("ltp %s: no authenticated broker", symbol)
	}
	return 0, lastErr
}
