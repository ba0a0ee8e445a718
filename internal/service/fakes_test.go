package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/ordersweep/internal/database"
	"github.com/dandantas/ordersweep/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore is an in-memory stand-in for the order, product, phone number and
// sweep run collections. Each method is atomic, like a single Mongo operation.
type memStore struct {
	mu       sync.Mutex
	orders   map[primitive.ObjectID]*model.Order
	products map[primitive.ObjectID]int
	releases map[primitive.ObjectID][]model.StockRelease
	phones   map[primitive.ObjectID]*model.PhoneNumber
	runs     []*model.SweepRun

	restores     int
	failRestore  error
	failProduct  primitive.ObjectID // restricts failRestore to one product when set
	failComplete error
	failPhones   error
	failFind     error
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[primitive.ObjectID]*model.Order),
		products: make(map[primitive.ObjectID]int),
		releases: make(map[primitive.ObjectID][]model.StockRelease),
		phones:   make(map[primitive.ObjectID]*model.PhoneNumber),
	}
}

func (m *memStore) setFailRestore(err error, product primitive.ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRestore = err
	m.failProduct = product
}

func (m *memStore) releaseRecords(product primitive.ObjectID) []model.StockRelease {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.StockRelease(nil), m.releases[product]...)
}

func (m *memStore) addProduct(quantity int) primitive.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := primitive.NewObjectID()
	m.products[id] = quantity
	return id
}

func (m *memStore) addOrder(o model.Order) primitive.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	m.orders[o.ID] = &o
	return o.ID
}

func (m *memStore) addPhone(p model.PhoneNumber) primitive.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = primitive.NewObjectID()
	m.phones[p.ID] = &p
	return p.ID
}

func (m *memStore) order(id primitive.ObjectID) (model.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

func (m *memStore) stock(id primitive.ObjectID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

func (m *memStore) hasPhone(id primitive.ObjectID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.phones[id]
	return ok
}

func (m *memStore) recordedRuns() []model.SweepRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SweepRun, len(m.runs))
	for i, r := range m.runs {
		out[i] = *r
	}
	return out
}

func (m *memStore) DeleteAbandoned(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, o := range m.orders {
		if o.Status == model.OrderStatusOpen && o.CreatedAt.Before(cutoff) {
			delete(m.orders, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, o := range m.orders {
		if o.Status == model.OrderStatusExpired && o.ExpiredAt != nil && o.ExpiredAt.Before(cutoff) {
			delete(m.orders, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) FindUnpaidCheckouts(_ context.Context, cutoff time.Time, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFind != nil {
		return nil, m.failFind
	}

	var found []model.Order
	for _, o := range m.orders {
		if o.NeedsRelease(cutoff) {
			found = append(found, *o)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CheckedOutAt.Before(*found[j].CheckedOutAt) })
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (m *memStore) ClaimUnpaidCheckout(_ context.Context, id primitive.ObjectID, cutoff, now time.Time) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || !o.NeedsRelease(cutoff) {
		return nil, nil
	}
	o.Status = model.OrderStatusReleasing
	if o.ReleasingAt == nil || now.Before(*o.ReleasingAt) {
		at := now
		o.ReleasingAt = &at
	}
	claimed := *o
	return &claimed, nil
}

func (m *memStore) CompleteRelease(_ context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failComplete != nil {
		return false, m.failComplete
	}
	o, ok := m.orders[id]
	if !ok || o.Status != model.OrderStatusReleasing {
		return false, nil
	}
	o.Status = model.OrderStatusExpired
	expiredAt := now
	o.ExpiredAt = &expiredAt
	return true, nil
}

func (m *memStore) RestoreQuantity(_ context.Context, productID, orderID primitive.ObjectID, quantity int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRestore != nil && (m.failProduct.IsZero() || m.failProduct == productID) {
		return false, m.failRestore
	}
	if _, ok := m.products[productID]; !ok || quantity <= 0 {
		return false, nil
	}
	for _, rel := range m.releases[productID] {
		if rel.OrderID == orderID {
			return false, nil
		}
	}
	m.products[productID] += quantity
	m.releases[productID] = append(m.releases[productID], model.StockRelease{OrderID: orderID, At: at})
	m.restores++
	return true, nil
}

func (m *memStore) ForgetReleases(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, records := range m.releases {
		kept := records[:0]
		for _, rel := range records {
			if !rel.At.Before(before) {
				kept = append(kept, rel)
			}
		}
		if len(kept) != len(records) {
			n++
		}
		m.releases[id] = kept
	}
	return n, nil
}

func (m *memStore) DeleteUnverified(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPhones != nil {
		return 0, m.failPhones
	}
	var n int64
	for id, p := range m.phones {
		if !p.Verified && p.CreatedAt.Before(cutoff) {
			delete(m.phones, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Create(_ context.Context, run *model.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID.IsZero() {
		run.ID = primitive.NewObjectID()
	}
	copied := *run
	m.runs = append(m.runs, &copied)
	return nil
}

func (m *memStore) GetByRunID(_ context.Context, runID string) (*model.SweepRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.RunID == runID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, database.ErrSweepRunNotFound
}

func (m *memStore) List(_ context.Context, f database.SweepRunFilter, page, limit int) ([]model.SweepRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []model.SweepRun
	for _, r := range m.runs {
		if f.Sweep != "" && r.Sweep != f.Sweep {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && r.StartedAt.Before(f.Since) {
			continue
		}
		matched = append(matched, *r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

	total := int64(len(matched))
	start := (page - 1) * limit
	if start >= len(matched) {
		return []model.SweepRun{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	affected map[string]int64
}

func (c *countingRecorder) AddAffected(step string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.affected == nil {
		c.affected = make(map[string]int64)
	}
	c.affected[step] += n
}

func (c *countingRecorder) get(step string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.affected[step]
}
