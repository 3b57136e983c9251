package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-oracle-feed/internal/ledger"
	"price-oracle-feed/internal/storage"
)

type fakeAlertStore struct {
	alerts      map[int64]*storage.Alert
	triggerErr  error
	notifiedIDs []int64
}

func newFakeAlertStore(alerts ...storage.Alert) *fakeAlertStore {
	s := &fakeAlertStore{alerts: make(map[int64]*storage.Alert)}
	for _, a := range alerts {
		copied := a
		s.alerts[a.ID] = &copied
	}
	return s
}

func (s *fakeAlertStore) ActiveAlertsBySymbol(ctx context.Context, symbol string) ([]storage.Alert, error) {
	var out []storage.Alert
	for _, a := range s.alerts {
		if a.Symbol == symbol && a.Status == storage.StatusActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) TriggerAlert(ctx context.Context, id int64) (*storage.Alert, error) {
	if s.triggerErr != nil {
		return nil, s.triggerErr
	}
	a, ok := s.alerts[id]
	if !ok || a.Status != storage.StatusActive {
		return nil, nil
	}
	now := time.Now()
	a.Status = storage.StatusTriggered
	a.TriggeredAt = &now
	copied := *a
	return &copied, nil
}

func (s *fakeAlertStore) MarkNotified(ctx context.Context, id int64) error {
	s.notifiedIDs = append(s.notifiedIDs, id)
	return nil
}

func (s *fakeAlertStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.Alert, error) {
	return nil, nil
}

// inlineSubmitter runs write jobs synchronously; order checks live in the
// ledger package's own tests.
type inlineSubmitter struct {
	names []string
}

func (s *inlineSubmitter) Submit(ctx context.Context, name string, fn ledger.WriteFunc) (*ledger.WriteHandle, error) {
	s.names = append(s.names, name)
	return fn(ctx)
}

type fakeBroadcaster struct {
	calls int
	err   error
}

func (b *fakeBroadcaster) EmitAlertTriggered(ctx context.Context, alertID int64, symbol string, price int64) (*ledger.WriteHandle, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return nil, nil
}

type fakeNotifier struct {
	notes []Notification
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, note Notification) error {
	n.notes = append(n.notes, note)
	return n.err
}

func activeAlert(id int64, symbol string, cond storage.AlertCondition, threshold int64) storage.Alert {
	return storage.Alert{
		ID:        id,
		ChatID:    "chat-1",
		Symbol:    symbol,
		Condition: cond,
		Threshold: threshold,
		Status:    storage.StatusActive,
		CreatedAt: time.Now(),
	}
}

func newTestEvaluator(t *testing.T, store storage.AlertStore, submitter WriteSubmitter, broadcaster Broadcaster, notifier Notifier) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(store, submitter, broadcaster, notifier, EvaluatorOptions{DedupCapacity: 16}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func TestEvaluateAboveTriggersOnceForRepeatedPrice(t *testing.T) {
	store := newFakeAlertStore(activeAlert(1, "BTC", storage.ConditionAbove, 30000_00000000))
	broadcaster := &fakeBroadcaster{}
	notifier := &fakeNotifier{}
	e := newTestEvaluator(t, store, &inlineSubmitter{}, broadcaster, notifier)

	triggered, err := e.Evaluate(context.Background(), "BTC", 31000_00000000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 || triggered[0] != 1 {
		t.Fatalf("expected alert 1 to trigger, got %v", triggered)
	}
	if store.alerts[1].Status != storage.StatusTriggered {
		t.Fatal("alert should be persisted as TRIGGERED")
	}

	// Second evaluation at the same or a higher price must be a no-op.
	triggered, err = e.Evaluate(context.Background(), "BTC", 32000_00000000)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("alert must trigger exactly once, got %v", triggered)
	}
	if broadcaster.calls != 1 {
		t.Fatalf("expected one broadcast, got %d", broadcaster.calls)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.notes))
	}
}

func TestEvaluateBelowCondition(t *testing.T) {
	store := newFakeAlertStore(
		activeAlert(1, "ETH", storage.ConditionBelow, 1600_00000000),
		activeAlert(2, "ETH", storage.ConditionBelow, 1400_00000000),
	)
	e := newTestEvaluator(t, store, &inlineSubmitter{}, &fakeBroadcaster{}, &fakeNotifier{})

	triggered, err := e.Evaluate(context.Background(), "ETH", 1500_00000000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 || triggered[0] != 1 {
		t.Fatalf("only the 1600 threshold should trigger, got %v", triggered)
	}
	if store.alerts[2].Status != storage.StatusActive {
		t.Fatal("the 1400 threshold alert must stay ACTIVE")
	}
}

func TestEvaluateEqualPriceTriggers(t *testing.T) {
	store := newFakeAlertStore(activeAlert(1, "BTC", storage.ConditionAbove, 30000_00000000))
	e := newTestEvaluator(t, store, &inlineSubmitter{}, &fakeBroadcaster{}, &fakeNotifier{})

	triggered, err := e.Evaluate(context.Background(), "BTC", 30000_00000000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 {
		t.Fatalf("price equal to threshold should trigger ABOVE, got %v", triggered)
	}
}

func TestEvaluatePersistenceFailureLeavesAlertActive(t *testing.T) {
	store := newFakeAlertStore(activeAlert(1, "BTC", storage.ConditionAbove, 30000_00000000))
	store.triggerErr = errors.New("db down")
	broadcaster := &fakeBroadcaster{}
	notifier := &fakeNotifier{}
	e := newTestEvaluator(t, store, &inlineSubmitter{}, broadcaster, notifier)

	triggered, err := e.Evaluate(context.Background(), "BTC", 31000_00000000)
	if err != nil {
		t.Fatalf("persistence failure must not fail the whole evaluation: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("nothing should report triggered, got %v", triggered)
	}
	if broadcaster.calls != 0 || len(notifier.notes) != 0 {
		t.Fatal("no broadcast or notification without a persisted transition")
	}

	// The store recovers; the next cycle triggers the same alert.
	store.triggerErr = nil
	triggered, err = e.Evaluate(context.Background(), "BTC", 31000_00000000)
	if err != nil {
		t.Fatalf("evaluate after recovery: %v", err)
	}
	if len(triggered) != 1 {
		t.Fatalf("alert should trigger once the store recovers, got %v", triggered)
	}
}

func TestEvaluateBroadcastFailureDoesNotRevert(t *testing.T) {
	store := newFakeAlertStore(activeAlert(1, "BTC", storage.ConditionAbove, 30000_00000000))
	broadcaster := &fakeBroadcaster{err: errors.New("ledger rejected")}
	notifier := &fakeNotifier{}
	e := newTestEvaluator(t, store, &inlineSubmitter{}, broadcaster, notifier)

	triggered, err := e.Evaluate(context.Background(), "BTC", 31000_00000000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 {
		t.Fatalf("expected trigger despite broadcast failure, got %v", triggered)
	}
	if store.alerts[1].Status != storage.StatusTriggered {
		t.Fatal("TRIGGERED is authoritative once persisted")
	}
	if len(notifier.notes) != 1 {
		t.Fatal("notification should still be attempted")
	}
}

func TestEvaluateNotificationFailureIsNonFatal(t *testing.T) {
	store := newFakeAlertStore(activeAlert(1, "BTC", storage.ConditionAbove, 30000_00000000))
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	e := newTestEvaluator(t, store, &inlineSubmitter{}, &fakeBroadcaster{}, notifier)

	triggered, err := e.Evaluate(context.Background(), "BTC", 31000_00000000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 {
		t.Fatalf("expected trigger, got %v", triggered)
	}
	if len(store.notifiedIDs) != 0 {
		t.Fatal("notified_at must not be set when delivery failed")
	}
}

func TestEvaluateSkipsNonMatchingSymbols(t *testing.T) {
	store := newFakeAlertStore(activeAlert(1, "ETH", storage.ConditionAbove, 1000_00000000))
	e := newTestEvaluator(t, store, &inlineSubmitter{}, &fakeBroadcaster{}, &fakeNotifier{})

	triggered, err := e.Evaluate(context.Background(), "BTC", 99999_00000000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("alerts for other symbols must not fire, got %v", triggered)
	}
}
