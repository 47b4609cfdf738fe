// Package ordercache keeps one shared snapshot of every broker's live order
// listing so that the monitoring loops read cached data instead of hitting
// the broker APIs per order. The cache refreshes on the same interval as the
// order monitor; a miss falls back to a direct broker call.
package ordercache

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-execv1/internal/broker"
	"trading-execv1/internal/model"
)

// Cache holds the latest per-broker order listing. Refresh replaces the
// snapshot wholesale under the lock; readers copy nothing and must not
// mutate returned slices.
type Cache struct {
	brokers *broker.Manager

	mu          sync.RWMutex
	orders      map[string][]model.BrokerOrderDetail // broker name → listing
	refreshedAt time.Time

	refreshCh chan struct{}
}

// New creates an empty cache over the broker manager.
func New(brokers *broker.Manager) *Cache {
	return &Cache{
		brokers:   brokers,
		orders:    make(map[string][]model.BrokerOrderDetail),
		refreshCh: make(chan struct{}, 1),
	}
}

// Refresh fetches the live order listing from every authenticated broker
// and swaps the snapshot. Per-broker fetch failures keep that broker's
// previous listing: stale data beats no data for reconciliation.
func (c *Cache) Refresh(ctx context.Context) {
	listings, errs := c.brokers.GetAllOrderDetails(ctx)
	for name, err := range errs {
		log.Printf("[ordercache] refresh failed for %s: %v", name, err)
	}

	c.mu.Lock()
	for name, listing := range listings {
		c.orders[name] = listing
	}
	c.refreshedAt = time.Now()
	c.mu.Unlock()
}

// Nudge requests an early refresh outside the regular interval, e.g. when
// the order stream reports an update. Coalesces when one is already queued.
func (c *Cache) Nudge() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Run refreshes on interval until ctx is cancelled, with Nudge requests
// serviced between ticks.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	c.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Refresh(ctx)
		case <-c.refreshCh:
			c.Refresh(ctx)
		}
	}
}

// RefreshedAt reports when the snapshot was last replaced.
func (c *Cache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// Listing returns the cached order listing for one broker.
func (c *Cache) Listing(name string) []model.BrokerOrderDetail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orders[name]
}

// Lookup finds the live order matching a stored broker order id, applying
// the broker's id-rewrite rules (fyers bracket legs). On a cache miss it
// falls back to a direct fetch through the broker so a freshly placed order
// is still resolvable before the next refresh.
func (c *Cache) Lookup(ctx context.Context, brokerName, storedID, productType string) (model.BrokerOrderDetail, bool) {
	candidates := LookupCandidates(storedID, brokerName, productType)

	c.mu.RLock()
	listing := c.orders[brokerName]
	c.mu.RUnlock()
	if d, ok := match(listing, candidates); ok {
		return d, true
	}

	b, ok := c.brokers.Broker(brokerName)
	if !ok {
		return model.BrokerOrderDetail{}, false
	}
	fresh, err := b.GetOrderDetails(ctx)
	if err != nil {
		log.Printf("[ordercache] fallback fetch failed for %s: %v", brokerName, err)
		return model.BrokerOrderDetail{}, false
	}
	c.mu.Lock()
	c.orders[brokerName] = fresh
	c.mu.Unlock()
	return match(fresh, candidates)
}

func match(listing []model.BrokerOrderDetail, candidates []string) (model.BrokerOrderDetail, bool) {
	for _, d := range listing {
		for _, id := range candidates {
			if d.OrderID == id {
				return d, true
			}
		}
	}
	return model.BrokerOrderDetail{}, false
}
