package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
	"github.com/dandantas/ordersweep/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var t0 = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func defaultThresholds() Thresholds {
	return Thresholds{
		AbandonedOrderAge:     24 * time.Hour,
		UnpaidCheckoutAge:     15 * time.Minute,
		UnverifiedPhoneAge:    24 * time.Hour,
		ExpiredOrderRetention: 30 * 24 * time.Hour,
		BatchSize:             500,
	}
}

func newTestReconciler(store *memStore, recorder AffectedRecorder, th Thresholds) *Reconciler {
	return NewReconciler(store, store, store, store, recorder, th, "host-1")
}

func ptr(t time.Time) *time.Time { return &t }

// checkedOutOrder reserves the given quantities at checkedOutAt
func checkedOutOrder(checkedOutAt time.Time, items map[primitive.ObjectID]int) model.Order {
	order := model.Order{
		Status:       model.OrderStatusCheckedOut,
		CreatedAt:    checkedOutAt.Add(-5 * time.Minute),
		CheckedOutAt: ptr(checkedOutAt),
	}
	for id, qty := range items {
		order.Items = append(order.Items, model.OrderItem{ProductID: id, Quantity: qty})
	}
	return order
}

func run(name string, now time.Time) scheduler.Run {
	return scheduler.Run{Task: name, RunID: "run-" + name, Trigger: scheduler.TriggerSchedule, Now: now}
}

func TestFrequentSweepReleasesUnpaidCheckout(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	fries := store.addProduct(3)
	orderID := store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 2, fries: 1}))

	recorder := &countingRecorder{}
	r := newTestReconciler(store, recorder, defaultThresholds())

	now := t0.Add(16 * time.Minute)
	require.NoError(t, r.FrequentSweep(context.Background(), run(SweepFrequent, now)))

	order, ok := store.order(orderID)
	require.True(t, ok)
	assert.Equal(t, model.OrderStatusExpired, order.Status)
	require.NotNil(t, order.ExpiredAt)
	assert.True(t, order.ExpiredAt.Equal(now))
	assert.Equal(t, 7, store.stock(burger))
	assert.Equal(t, 4, store.stock(fries))
	assert.Equal(t, int64(1), recorder.get(StepUnpaidCheckouts))

	runs := store.recordedRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, SweepFrequent, runs[0].Sweep)
	assert.Equal(t, model.RunStatusSuccess, runs[0].Status)
	assert.Equal(t, "host-1", runs[0].InstanceID)
	require.Len(t, runs[0].Steps, 1)
	assert.Equal(t, int64(1), runs[0].Steps[0].Affected)
}

func TestFrequentSweepLeavesRecentCheckoutAlone(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	orderID := store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 2}))

	r := newTestReconciler(store, nil, defaultThresholds())
	require.NoError(t, r.FrequentSweep(context.Background(), run(SweepFrequent, t0.Add(14*time.Minute))))

	order, _ := store.order(orderID)
	assert.Equal(t, model.OrderStatusCheckedOut, order.Status)
	assert.Equal(t, 5, store.stock(burger))
}

func TestFrequentSweepIgnoresPaidOrders(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)

	paid := checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 2})
	paid.Status = model.OrderStatusPaid
	paid.PaidAt = ptr(t0.Add(time.Minute))
	paidID := store.addOrder(paid)

	// paid_at set but status not yet moved on
	racing := checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 1})
	racing.PaidAt = ptr(t0.Add(2 * time.Minute))
	racingID := store.addOrder(racing)

	r := newTestReconciler(store, nil, defaultThresholds())
	require.NoError(t, r.FrequentSweep(context.Background(), run(SweepFrequent, t0.Add(time.Hour))))

	o, _ := store.order(paidID)
	assert.Equal(t, model.OrderStatusPaid, o.Status)
	o, _ = store.order(racingID)
	assert.Equal(t, model.OrderStatusCheckedOut, o.Status)
	assert.Equal(t, 5, store.stock(burger))
}

func TestReleaseUnpaidCheckoutsIsIdempotent(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 2}))
	store.addOrder(checkedOutOrder(t0.Add(time.Minute), map[primitive.ObjectID]int{burger: 1}))

	r := newTestReconciler(store, nil, defaultThresholds())
	now := t0.Add(30 * time.Minute)

	first, err := r.ReleaseUnpaidCheckouts(context.Background(), now)
	require.NoError(t, err)
	afterOnce := store.stock(burger)

	second, err := r.ReleaseUnpaidCheckouts(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, int64(2), first)
	assert.Zero(t, second)
	assert.Equal(t, 8, afterOnce)
	assert.Equal(t, afterOnce, store.stock(burger))
}

func TestConcurrentReleasesRestoreStockOnce(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(0)
	for i := 0; i < 50; i++ {
		store.addOrder(checkedOutOrder(t0.Add(time.Duration(i)*time.Second), map[primitive.ObjectID]int{burger: 1}))
	}

	// two instances both believing they are master
	a := newTestReconciler(store, nil, defaultThresholds())
	b := newTestReconciler(store, nil, defaultThresholds())
	now := t0.Add(time.Hour)

	var wg sync.WaitGroup
	var releasedA, releasedB int64
	wg.Add(2)
	go func() {
		defer wg.Done()
		releasedA, _ = a.ReleaseUnpaidCheckouts(context.Background(), now)
	}()
	go func() {
		defer wg.Done()
		releasedB, _ = b.ReleaseUnpaidCheckouts(context.Background(), now)
	}()
	wg.Wait()

	assert.Equal(t, int64(50), releasedA+releasedB)
	assert.Equal(t, 50, store.stock(burger))
}

func TestReleaseUnpaidCheckoutsWorksInBatches(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(0)
	for i := 0; i < 7; i++ {
		store.addOrder(checkedOutOrder(t0.Add(time.Duration(i)*time.Second), map[primitive.ObjectID]int{burger: 1}))
	}

	th := defaultThresholds()
	th.BatchSize = 3
	r := newTestReconciler(store, nil, th)

	released, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(7), released)
	assert.Equal(t, 7, store.stock(burger))
}

func TestReleaseUnpaidCheckoutsRetriesAfterRestoreFailure(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	orderID := store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 2}))
	r := newTestReconciler(store, nil, defaultThresholds())

	store.setFailRestore(errors.New("transient network error"), primitive.NilObjectID)
	released, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(16*time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient network error")
	assert.Zero(t, released)
	assert.Equal(t, 5, store.stock(burger))

	order, _ := store.order(orderID)
	assert.Equal(t, model.OrderStatusReleasing, order.Status)
	assert.Nil(t, order.ExpiredAt)

	store.setFailRestore(nil, primitive.NilObjectID)
	released, err = r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.Equal(t, 7, store.stock(burger))

	order, _ = store.order(orderID)
	assert.Equal(t, model.OrderStatusExpired, order.Status)
	require.NotNil(t, order.ReleasingAt)
	assert.True(t, order.ReleasingAt.Equal(t0.Add(16*time.Minute)))

	released, err = r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(46*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, released)
	assert.Equal(t, 7, store.stock(burger))
}

func TestReleaseUnpaidCheckoutsPartialRestoreIsNotRepeated(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	fries := store.addProduct(3)
	orderID := store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 2, fries: 1}))
	r := newTestReconciler(store, nil, defaultThresholds())

	store.setFailRestore(errors.New("write conflict"), fries)
	_, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(16*time.Minute))
	require.Error(t, err)
	assert.Equal(t, 7, store.stock(burger))
	assert.Equal(t, 3, store.stock(fries))

	store.setFailRestore(nil, primitive.NilObjectID)
	released, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	// burger went back on the first run only
	assert.Equal(t, 7, store.stock(burger))
	assert.Equal(t, 4, store.stock(fries))
	assert.Equal(t, 2, store.restores)

	order, _ := store.order(orderID)
	assert.Equal(t, model.OrderStatusExpired, order.Status)
}

func TestReleaseUnpaidCheckoutsRetriesUnfinishedRelease(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	orderID := store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 2}))
	r := newTestReconciler(store, nil, defaultThresholds())

	// stock restored but the order could not be expired
	store.failComplete = errors.New("primary stepped down")
	_, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(16*time.Minute))
	require.Error(t, err)
	assert.Equal(t, 7, store.stock(burger))

	store.failComplete = nil
	released, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.Equal(t, 7, store.stock(burger))

	order, _ := store.order(orderID)
	assert.Equal(t, model.OrderStatusExpired, order.Status)
}

func TestReleaseUnpaidCheckoutsStopsOnPersistentFailure(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(0)
	for i := 0; i < 6; i++ {
		store.addOrder(checkedOutOrder(t0.Add(time.Duration(i)*time.Second), map[primitive.ObjectID]int{burger: 1}))
	}
	store.setFailRestore(errors.New("disk full"), primitive.NilObjectID)

	th := defaultThresholds()
	th.BatchSize = 3
	r := newTestReconciler(store, nil, th)

	released, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(time.Hour))
	require.Error(t, err)
	assert.Zero(t, released)
	assert.Zero(t, store.stock(burger))
}

func TestPurgeExpiredOrdersPrunesReleaseRecords(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 1}))
	r := newTestReconciler(store, nil, defaultThresholds())

	_, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(16*time.Minute))
	require.NoError(t, err)
	require.Len(t, store.releaseRecords(burger), 1)

	_, err = r.PurgeExpiredOrders(context.Background(), t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, store.releaseRecords(burger), 1, "kept within retention")

	deleted, err := r.PurgeExpiredOrders(context.Background(), t0.Add(31*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, store.releaseRecords(burger))
}

func TestReleaseUnpaidCheckoutsMissingProduct(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	gone := primitive.NewObjectID()
	store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 1, gone: 4}))

	r := newTestReconciler(store, nil, defaultThresholds())
	released, err := r.ReleaseUnpaidCheckouts(context.Background(), t0.Add(time.Hour))

	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.Equal(t, 6, store.stock(burger))
}

func TestDailySweep(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 7, 2, 2, 30, 0, 0, time.UTC)

	staleOpen := store.addOrder(model.Order{Status: model.OrderStatusOpen, CreatedAt: now.Add(-25 * time.Hour)})
	freshOpen := store.addOrder(model.Order{Status: model.OrderStatusOpen, CreatedAt: now.Add(-23 * time.Hour)})
	oldPaid := store.addOrder(model.Order{Status: model.OrderStatusPaid, CreatedAt: now.Add(-72 * time.Hour)})
	oldExpired := store.addOrder(model.Order{
		Status:    model.OrderStatusExpired,
		CreatedAt: now.Add(-40 * 24 * time.Hour),
		ExpiredAt: ptr(now.Add(-31 * 24 * time.Hour)),
	})
	recentExpired := store.addOrder(model.Order{
		Status:    model.OrderStatusExpired,
		CreatedAt: now.Add(-3 * 24 * time.Hour),
		ExpiredAt: ptr(now.Add(-2 * 24 * time.Hour)),
	})

	stalePhone := store.addPhone(model.PhoneNumber{Number: "+46700000001", CreatedAt: now.Add(-48 * time.Hour)})
	freshPhone := store.addPhone(model.PhoneNumber{Number: "+46700000002", CreatedAt: now.Add(-time.Hour)})
	verifiedPhone := store.addPhone(model.PhoneNumber{Number: "+46700000003", Verified: true, CreatedAt: now.Add(-48 * time.Hour)})

	recorder := &countingRecorder{}
	r := newTestReconciler(store, recorder, defaultThresholds())
	require.NoError(t, r.DailySweep(context.Background(), run(SweepDaily, now)))

	_, ok := store.order(staleOpen)
	assert.False(t, ok, "stale open order removed")
	_, ok = store.order(freshOpen)
	assert.True(t, ok)
	_, ok = store.order(oldPaid)
	assert.True(t, ok, "paid orders are never swept")
	_, ok = store.order(oldExpired)
	assert.False(t, ok, "expired order past retention purged")
	_, ok = store.order(recentExpired)
	assert.True(t, ok)

	assert.False(t, store.hasPhone(stalePhone))
	assert.True(t, store.hasPhone(freshPhone))
	assert.True(t, store.hasPhone(verifiedPhone))

	assert.Equal(t, int64(1), recorder.get(StepAbandonedOrders))
	assert.Equal(t, int64(1), recorder.get(StepUnverifiedPhones))
	assert.Equal(t, int64(1), recorder.get(StepExpiredOrders))

	runs := store.recordedRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, SweepDaily, runs[0].Sweep)
	assert.Len(t, runs[0].Steps, 3)
	assert.Equal(t, int64(3), runs[0].ToSummary().Affected)
}

func TestDailySweepContinuesAfterStepFailure(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 7, 2, 2, 30, 0, 0, time.UTC)
	stale := store.addOrder(model.Order{Status: model.OrderStatusOpen, CreatedAt: now.Add(-48 * time.Hour)})
	boom := errors.New("not primary")
	store.failPhones = boom

	r := newTestReconciler(store, nil, defaultThresholds())
	err := r.DailySweep(context.Background(), run(SweepDaily, now))

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), StepUnverifiedPhones)

	_, ok := store.order(stale)
	assert.False(t, ok, "other steps still ran")

	runs := store.recordedRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusPartial, runs[0].Status)
	assert.Equal(t, "not primary", runs[0].Steps[1].Error)
}

func TestFrequentSweepFailureIsRecorded(t *testing.T) {
	store := newMemStore()
	store.failFind = errors.New("server selection timeout")

	r := newTestReconciler(store, nil, defaultThresholds())
	err := r.FrequentSweep(context.Background(), run(SweepFrequent, t0))
	require.Error(t, err)

	runs := store.recordedRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestReconcilerAction(t *testing.T) {
	r := newTestReconciler(newMemStore(), nil, defaultThresholds())

	for _, name := range []string{SweepDaily, SweepFrequent} {
		action, ok := r.Action(name)
		assert.True(t, ok, name)
		assert.NotNil(t, action)
	}
	_, ok := r.Action("weekly")
	assert.False(t, ok)
}

func TestFrequentSweepUnderScheduler(t *testing.T) {
	store := newMemStore()
	burger := store.addProduct(5)
	orderID := store.addOrder(checkedOutOrder(t0, map[primitive.ObjectID]int{burger: 3}))
	r := newTestReconciler(store, nil, defaultThresholds())

	spec, err := scheduler.ParseSpec(SweepFrequent, "0 */15 * * * *", "Europe/Stockholm")
	require.NoError(t, err)

	gate := &staticGate{}
	task, err := scheduler.NewTask(spec, gate, r.FrequentSweep,
		scheduler.WithTaskClock(func() time.Time { return t0.Add(16 * time.Minute) }))
	require.NoError(t, err)

	assert.Equal(t, scheduler.FireSkippedNotMaster, task.Fire(context.Background(), scheduler.TriggerSchedule))
	order, _ := store.order(orderID)
	assert.Equal(t, model.OrderStatusCheckedOut, order.Status)

	gate.master = true
	assert.Equal(t, scheduler.FireSucceeded, task.Fire(context.Background(), scheduler.TriggerSchedule))
	order, _ = store.order(orderID)
	assert.Equal(t, model.OrderStatusExpired, order.Status)
	assert.Equal(t, 8, store.stock(burger))
}

type staticGate struct {
	master bool
}

func (g *staticGate) IsMaster() bool { return g.master }
