package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-oracle-feed/internal/ledger"
	"price-oracle-feed/internal/quote"
	"price-oracle-feed/internal/storage"
)

// WriteSubmitter enqueues a write job on the shared serializer.
type WriteSubmitter interface {
	Submit(ctx context.Context, name string, fn ledger.WriteFunc) (*ledger.WriteHandle, error)
}

// Broadcaster emits the event-only triggered-alert write.
type Broadcaster interface {
	EmitAlertTriggered(ctx context.Context, alertID int64, symbol string, price int64) (*ledger.WriteHandle, error)
}

// EvaluatorOptions tune the evaluator.
type EvaluatorOptions struct {
	DedupCapacity int
}

// Evaluator consumes newly published quotes and transitions matching ACTIVE
// alerts to TRIGGERED exactly once. The persisted transition is
// authoritative: broadcast and notification failures never revert it.
type Evaluator struct {
	alerts      storage.AlertStore
	serializer  WriteSubmitter
	broadcaster Broadcaster
	notifier    Notifier
	dedup       *dedupCache
	logger      zerolog.Logger
}

// NewEvaluator constructs an alert evaluator. serializer, broadcaster, and
// notifier may each be nil (broadcast or delivery disabled).
func NewEvaluator(alerts storage.AlertStore, serializer WriteSubmitter, broadcaster Broadcaster, notifier Notifier, opts EvaluatorOptions, logger zerolog.Logger) (*Evaluator, error) {
	capacity := opts.DedupCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	dedup, err := newDedupCache(capacity)
	if err != nil {
		return nil, fmt.Errorf("build dedup cache: %w", err)
	}

	return &Evaluator{
		alerts:      alerts,
		serializer:  serializer,
		broadcaster: broadcaster,
		notifier:    notifier,
		dedup:       dedup,
		logger:      logger.With().Str("component", "alert_evaluator").Logger(),
	}, nil
}

// Evaluate checks every ACTIVE alert for the symbol against the current
// price and returns the IDs that transitioned to TRIGGERED.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string, price int64) ([]int64, error) {
	alerts, err := e.alerts.ActiveAlertsBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load active alerts for %s: %w", symbol, err)
	}

	var triggered []int64
	for _, alert := range alerts {
		if e.dedup.Seen(alert.ID) {
			continue
		}
		if !conditionMet(alert, price) {
			continue
		}

		updated, err := e.alerts.TriggerAlert(ctx, alert.ID)
		if err != nil {
			// Left ACTIVE: the next cycle re-checks the same threshold.
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("persisting trigger failed; alert stays active")
			continue
		}
		if updated == nil {
			// Someone else already moved it out of ACTIVE.
			e.dedup.Add(alert.ID, time.Now())
			continue
		}

		triggeredAt := time.Now()
		if updated.TriggeredAt != nil {
			triggeredAt = *updated.TriggeredAt
		}
		e.dedup.Add(alert.ID, triggeredAt)
		triggered = append(triggered, alert.ID)

		e.logger.Info().
			Int64("alert_id", alert.ID).
			Str("symbol", symbol).
			Str("price", quote.Format(price, quote.DefaultDecimals)).
			Str("threshold", quote.Format(alert.Threshold, quote.DefaultDecimals)).
			Str("condition", string(alert.Condition)).
			Msg("alert triggered")

		e.broadcast(ctx, alert.ID, symbol, price)
		e.notify(ctx, *updated, price, triggeredAt)
	}

	return triggered, nil
}

func (e *Evaluator) broadcast(ctx context.Context, alertID int64, symbol string, price int64) {
	if e.serializer == nil || e.broadcaster == nil {
		return
	}
	name := fmt.Sprintf("alert-triggered-%d", alertID)
	_, err := e.serializer.Submit(ctx, name, func(ctx context.Context) (*ledger.WriteHandle, error) {
		return e.broadcaster.EmitAlertTriggered(ctx, alertID, symbol, price)
	})
	if err != nil {
		e.logger.Error().Err(err).Int64("alert_id", alertID).Msg("triggered-event broadcast failed")
	}
}

func (e *Evaluator) notify(ctx context.Context, alert storage.Alert, price int64, triggeredAt time.Time) {
	if e.notifier == nil {
		return
	}
	note := Notification{
		AlertID:     alert.ID,
		ChatID:      alert.ChatID,
		Symbol:      alert.Symbol,
		Condition:   alert.Condition,
		Threshold:   alert.Threshold,
		Price:       price,
		Decimals:    quote.DefaultDecimals,
		TriggeredAt: triggeredAt,
	}
	if err := e.notifier.Notify(ctx, note); err != nil {
		// Best effort only: logged, dropped, never retried.
		e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("notification dropped")
		return
	}
	if err := e.alerts.MarkNotified(ctx, alert.ID); err != nil {
		e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to record notified_at")
	}
}

func conditionMet(alert storage.Alert, price int64) bool {
	switch alert.Condition {
	case storage.ConditionAbove:
		return price >= alert.Threshold
	case storage.ConditionBelow:
		return price <= alert.Threshold
	default:
		return false
	}
}
