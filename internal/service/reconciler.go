package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/ordersweep/internal/config"
	"github.com/dandantas/ordersweep/internal/model"
	"github.com/dandantas/ordersweep/internal/scheduler"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sweep names, also used as schedule entry names
const (
	SweepDaily    = "daily"
	SweepFrequent = "frequent"
)

// Reconciliation steps
const (
	StepAbandonedOrders  = "remove_abandoned_orders"
	StepUnverifiedPhones = "remove_unverified_phone_numbers"
	StepExpiredOrders    = "purge_expired_orders"
	StepUnpaidCheckouts  = "release_unpaid_checkouts"
)

// OrderStore is the order persistence the reconciler needs
type OrderStore interface {
	DeleteAbandoned(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	FindUnpaidCheckouts(ctx context.Context, cutoff time.Time, limit int) ([]model.Order, error)
	ClaimUnpaidCheckout(ctx context.Context, id primitive.ObjectID, cutoff, now time.Time) (*model.Order, error)
	CompleteRelease(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error)
}

// ProductStore restores reserved stock. RestoreQuantity must be a no-op for an
// order it has already restored.
type ProductStore interface {
	RestoreQuantity(ctx context.Context, productID, orderID primitive.ObjectID, quantity int, at time.Time) (bool, error)
	ForgetReleases(ctx context.Context, before time.Time) (int64, error)
}

// PhoneNumberStore removes stale subscriber numbers
type PhoneNumberStore interface {
	DeleteUnverified(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepRunStore persists sweep history
type SweepRunStore interface {
	Create(ctx context.Context, run *model.SweepRun) error
}

// AffectedRecorder counts records touched per step
type AffectedRecorder interface {
	AddAffected(step string, n int64)
}

// Thresholds are the age limits applied by the sweeps
type Thresholds struct {
	AbandonedOrderAge     time.Duration
	UnpaidCheckoutAge     time.Duration
	UnverifiedPhoneAge    time.Duration
	ExpiredOrderRetention time.Duration
	BatchSize             int
}

// ThresholdsFromConfig reads the sweep thresholds from configuration
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		AbandonedOrderAge:     cfg.AbandonedOrderAge,
		UnpaidCheckoutAge:     cfg.UnpaidCheckoutAge,
		UnverifiedPhoneAge:    cfg.UnverifiedPhoneAge,
		ExpiredOrderRetention: cfg.ExpiredOrderRetention,
		BatchSize:             cfg.SweepBatchSize,
	}
}

// Reconciler performs the periodic data cleanup. Every step is a conditional
// mutation, so running a step twice, or on two instances at once, has the
// same effect as running it once.
type Reconciler struct {
	orders     OrderStore
	products   ProductStore
	phones     PhoneNumberStore
	runs       SweepRunStore
	recorder   AffectedRecorder
	thresholds Thresholds
	instanceID string
}

// NewReconciler creates a new reconciler. runs and recorder may be nil.
func NewReconciler(
	orders OrderStore,
	products ProductStore,
	phones PhoneNumberStore,
	runs SweepRunStore,
	recorder AffectedRecorder,
	thresholds Thresholds,
	instanceID string,
) *Reconciler {
	if thresholds.BatchSize <= 0 {
		thresholds.BatchSize = 500
	}
	return &Reconciler{
		orders:     orders,
		products:   products,
		phones:     phones,
		runs:       runs,
		recorder:   recorder,
		thresholds: thresholds,
		instanceID: instanceID,
	}
}

// RemoveAbandonedOrders deletes orders that were never checked out
func (r *Reconciler) RemoveAbandonedOrders(ctx context.Context, now time.Time) (int64, error) {
	return r.orders.DeleteAbandoned(ctx, now.Add(-r.thresholds.AbandonedOrderAge))
}

// RemoveUnverifiedPhoneNumbers deletes numbers whose verification was never completed
func (r *Reconciler) RemoveUnverifiedPhoneNumbers(ctx context.Context, now time.Time) (int64, error) {
	return r.phones.DeleteUnverified(ctx, now.Add(-r.thresholds.UnverifiedPhoneAge))
}

// PurgeExpiredOrders deletes expired orders past retention and prunes the
// product release records kept for the same period
func (r *Reconciler) PurgeExpiredOrders(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-r.thresholds.ExpiredOrderRetention)

	deleted, err := r.orders.DeleteExpired(ctx, cutoff)
	if err != nil {
		return deleted, err
	}

	pruned, err := r.products.ForgetReleases(ctx, cutoff)
	if err != nil {
		return deleted, err
	}
	if pruned > 0 {
		slog.Debug("Pruned product release records", "products", pruned, "before", cutoff)
	}

	return deleted, nil
}

// ReleaseUnpaidCheckouts expires checked-out orders that were not paid in time
// and puts their items back into stock. An order is first claimed into
// releasing, then each item is restored with a single guarded update that
// records the order on the product, and only then is the order expired. A
// failure anywhere leaves the order releasing, and the next run picks it up
// again without restoring any item twice.
// Returns the number of orders released.
func (r *Reconciler) ReleaseUnpaidCheckouts(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-r.thresholds.UnpaidCheckoutAge)

	var released int64
	var errs []error

	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		batch, err := r.orders.FindUnpaidCheckouts(ctx, cutoff, r.thresholds.BatchSize)
		if err != nil {
			errs = append(errs, err)
			break
		}

		var completed int
		for _, candidate := range batch {
			done, err := r.releaseOrder(ctx, candidate.ID, cutoff, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if done {
				completed++
			}
		}
		released += int64(completed)

		// Orders that keep failing come back in every batch
		if len(batch) < r.thresholds.BatchSize || completed == 0 {
			break
		}
	}

	return released, errors.Join(errs...)
}

// releaseOrder claims, restores and expires one order. done is false when the
// order no longer needs releasing or another run finished it first.
func (r *Reconciler) releaseOrder(ctx context.Context, id primitive.ObjectID, cutoff, now time.Time) (done bool, err error) {
	order, err := r.orders.ClaimUnpaidCheckout(ctx, id, cutoff, now)
	if err != nil {
		return false, err
	}
	if order == nil {
		// paid or finished elsewhere since the query
		return false, nil
	}

	if err := r.restoreStock(ctx, order, now); err != nil {
		return false, err
	}

	return r.orders.CompleteRelease(ctx, order.ID, now)
}

func (r *Reconciler) restoreStock(ctx context.Context, order *model.Order, now time.Time) error {
	var errs []error
	for _, item := range order.Items {
		restored, err := r.products.RestoreQuantity(ctx, item.ProductID, order.ID, item.Quantity, now)
		if err != nil {
			slog.Warn("Failed to restore stock, order stays releasing for the next run",
				"order_id", order.ID.Hex(),
				"product_id", item.ProductID.Hex(),
				"quantity", item.Quantity,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		if !restored {
			slog.Debug("Stock already restored or product removed",
				"order_id", order.ID.Hex(),
				"product_id", item.ProductID.Hex(),
			)
		}
	}
	return errors.Join(errs...)
}

type step struct {
	name string
	fn   func(ctx context.Context, now time.Time) (int64, error)
}

// DailySweep removes abandoned orders and unverified phone numbers, then
// purges expired orders past retention.
func (r *Reconciler) DailySweep(ctx context.Context, run scheduler.Run) error {
	_, err := r.sweep(ctx, SweepDaily, run, []step{
		{StepAbandonedOrders, r.RemoveAbandonedOrders},
		{StepUnverifiedPhones, r.RemoveUnverifiedPhoneNumbers},
		{StepExpiredOrders, r.PurgeExpiredOrders},
	})
	return err
}

// FrequentSweep releases stock held by unpaid checkouts
func (r *Reconciler) FrequentSweep(ctx context.Context, run scheduler.Run) error {
	_, err := r.sweep(ctx, SweepFrequent, run, []step{
		{StepUnpaidCheckouts, r.ReleaseUnpaidCheckouts},
	})
	return err
}

// Action returns the sweep registered under name
func (r *Reconciler) Action(name string) (scheduler.Action, bool) {
	switch name {
	case SweepDaily:
		return r.DailySweep, true
	case SweepFrequent:
		return r.FrequentSweep, true
	default:
		return nil, false
	}
}

// sweep runs every step even if an earlier one failed, records the run and
// returns the joined step errors.
func (r *Reconciler) sweep(ctx context.Context, name string, run scheduler.Run, steps []step) (*model.SweepRun, error) {
	record := &model.SweepRun{
		RunID:      run.RunID,
		Sweep:      name,
		Trigger:    run.Trigger,
		InstanceID: r.instanceID,
		StartedAt:  run.Now.UTC(),
		Steps:      make([]model.StepResult, 0, len(steps)),
	}
	started := time.Now()

	var errs []error
	failed := 0
	for _, s := range steps {
		affected, err := s.fn(ctx, run.Now)
		result := model.StepResult{Step: s.name, Affected: affected}
		if err != nil {
			failed++
			result.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
		record.Steps = append(record.Steps, result)

		if r.recorder != nil && affected > 0 {
			r.recorder.AddAffected(s.name, affected)
		}

		slog.Info("Sweep step finished",
			"sweep", name,
			"run_id", run.RunID,
			"step", s.name,
			"affected", affected,
			"failed", err != nil,
		)
	}

	elapsed := time.Since(started)
	record.FinishedAt = record.StartedAt.Add(elapsed)
	record.DurationMs = elapsed.Milliseconds()

	switch {
	case failed == 0:
		record.Status = model.RunStatusSuccess
	case failed == len(steps):
		record.Status = model.RunStatusFailed
	default:
		record.Status = model.RunStatusPartial
	}

	err := errors.Join(errs...)
	if err != nil {
		record.Error = err.Error()
	}

	if r.runs != nil {
		// history is best effort and never fails the sweep
		if createErr := r.runs.Create(context.WithoutCancel(ctx), record); createErr != nil {
			slog.Error("Failed to record sweep run",
				"sweep", name,
				"run_id", run.RunID,
				"error", createErr,
			)
		}
	}

	return record, err
}
