package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type fakeConfirmer struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeConfirmer) WaitConfirmed(ctx context.Context, handle *WriteHandle) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

func startSerializer(t *testing.T, confirmer Confirmer) (*Serializer, context.CancelFunc) {
	t.Helper()
	s := NewSerializer(confirmer, SerializerOptions{InterJobDelay: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	return s, cancel
}

func TestSerializerSingleInflight(t *testing.T) {
	confirmer := &fakeConfirmer{delay: 5 * time.Millisecond}
	s, cancel := startSerializer(t, confirmer)
	defer cancel()

	var inflight, maxInflight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), "job", func(ctx context.Context) (*WriteHandle, error) {
				cur := inflight.Add(1)
				for {
					prev := maxInflight.Load()
					if cur <= prev || maxInflight.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inflight.Add(-1)
				return &WriteHandle{TxHash: common.HexToHash("0x1")}, nil
			})
			if err != nil {
				t.Errorf("submit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInflight.Load() != 1 {
		t.Fatalf("expected at most one execute in flight, saw %d", maxInflight.Load())
	}
	if confirmer.calls.Load() != 8 {
		t.Fatalf("every handle-returning job must be confirmed, got %d", confirmer.calls.Load())
	}
}

func TestSerializerFIFO(t *testing.T) {
	s := NewSerializer(&fakeConfirmer{}, SerializerOptions{InterJobDelay: time.Millisecond}, zerolog.Nop())

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	// The worker is not running yet, so each submission parks in the queue.
	// Waiting for the queue to grow before launching the next submitter
	// pins the enqueue order without timing assumptions.
	for i := 0; i < 5; i++ {
		wg.Add(1)
		seq := i
		go func() {
			defer wg.Done()
			_, _ = s.Submit(context.Background(), "ordered", func(ctx context.Context) (*WriteHandle, error) {
				mu.Lock()
				order = append(order, seq)
				mu.Unlock()
				return nil, nil
			})
		}()
		waitForQueueLen(t, s, i+1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range order {
		if seq != i {
			t.Fatalf("jobs executed out of FIFO order: %v", order)
		}
	}
}

func waitForQueueLen(t *testing.T, s *Serializer, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(s.jobs) < want {
		if time.Now().After(deadline) {
			t.Fatalf("job %d was never enqueued", want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSerializerFailureIsolation(t *testing.T) {
	s, cancel := startSerializer(t, &fakeConfirmer{})
	defer cancel()

	if _, err := s.Submit(context.Background(), "bad", func(ctx context.Context) (*WriteHandle, error) {
		return nil, errors.New("boom")
	}); err == nil {
		t.Fatal("failing job should reject its own promise")
	}

	handle, err := s.Submit(context.Background(), "good", func(ctx context.Context) (*WriteHandle, error) {
		return &WriteHandle{TxHash: common.HexToHash("0x2")}, nil
	})
	if err != nil {
		t.Fatalf("queue should keep processing after a failure: %v", err)
	}
	if handle == nil {
		t.Fatal("expected a handle from the follow-up job")
	}
}

func TestSerializerNilHandleSkipsConfirmation(t *testing.T) {
	confirmer := &fakeConfirmer{}
	s, cancel := startSerializer(t, confirmer)
	defer cancel()

	handle, err := s.Submit(context.Background(), "noop", func(ctx context.Context) (*WriteHandle, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("noop job should succeed: %v", err)
	}
	if handle != nil {
		t.Fatal("expected nil handle")
	}
	if confirmer.calls.Load() != 0 {
		t.Fatal("nil handles must not trigger a confirmation wait")
	}
}

func TestSerializerConfirmationFailureRejectsJob(t *testing.T) {
	confirmer := &fakeConfirmer{err: errors.New("timeout")}
	s, cancel := startSerializer(t, confirmer)
	defer cancel()

	if _, err := s.Submit(context.Background(), "unconfirmed", func(ctx context.Context) (*WriteHandle, error) {
		return &WriteHandle{TxHash: common.HexToHash("0x3")}, nil
	}); err == nil {
		t.Fatal("confirmation failure should surface to the submitter")
	}
}

func TestSerializerRejectsQueuedJobsOnShutdown(t *testing.T) {
	s := NewSerializer(&fakeConfirmer{}, SerializerOptions{InterJobDelay: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "stranded", func(ctx context.Context) (*WriteHandle, error) {
			return nil, nil
		})
		errCh <- err
	}()

	// Give the submitter time to enqueue before the loop observes cancellation.
	time.Sleep(5 * time.Millisecond)
	_ = s.Run(ctx)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("stranded job should be rejected on shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("stranded job was never resolved")
	}
}
