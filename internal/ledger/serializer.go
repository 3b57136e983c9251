package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Confirmer waits for a submitted write to be final on the ledger.
type Confirmer interface {
	WaitConfirmed(ctx context.Context, handle *WriteHandle) error
}

// WriteFunc performs one ledger write. A nil handle means the job decided
// there was nothing to write; no confirmation wait happens.
type WriteFunc func(ctx context.Context) (*WriteHandle, error)

type writeResult struct {
	handle *WriteHandle
	err    error
}

// queuedWrite lives only inside the serializer's queue; it is never
// persisted.
type queuedWrite struct {
	id   uuid.UUID
	name string
	fn   WriteFunc
	done chan writeResult
}

// SerializerOptions tune queue behaviour.
type SerializerOptions struct {
	QueueSize     int
	InterJobDelay time.Duration
}

// Serializer executes ledger writes strictly one at a time. All writers
// sharing the single signing identity submit through the same serializer so
// nonce ordering is preserved: a job's write must be confirmed before the
// next job starts, and a small delay separates consecutive jobs. This is an
// in-process guarantee only.
type Serializer struct {
	confirmer Confirmer
	opts      SerializerOptions
	logger    zerolog.Logger
	jobs      chan *queuedWrite
}

// NewSerializer constructs a write serializer draining into the given
// confirmer.
func NewSerializer(confirmer Confirmer, opts SerializerOptions, logger zerolog.Logger) *Serializer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.InterJobDelay <= 0 {
		opts.InterJobDelay = 50 * time.Millisecond
	}
	return &Serializer{
		confirmer: confirmer,
		opts:      opts,
		logger:    logger.With().Str("component", "write_serializer").Logger(),
		jobs:      make(chan *queuedWrite, opts.QueueSize),
	}
}

// Run processes queued writes until ctx is cancelled, then rejects whatever
// is still queued. Exactly one Run must be active per serializer.
func (s *Serializer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.reject(ctx.Err())
			return ctx.Err()
		case job := <-s.jobs:
			s.process(ctx, job)

			select {
			case <-ctx.Done():
				s.reject(ctx.Err())
				return ctx.Err()
			case <-time.After(s.opts.InterJobDelay):
			}
		}
	}
}

// Submit enqueues a named write job and blocks until the job completes or
// ctx is cancelled. Jobs complete in FIFO submission order; a failing job
// rejects only its own caller.
func (s *Serializer) Submit(ctx context.Context, name string, fn WriteFunc) (*WriteHandle, error) {
	job := &queuedWrite{
		id:   uuid.New(),
		name: name,
		fn:   fn,
		done: make(chan writeResult, 1),
	}

	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return nil, fmt.Errorf("enqueue %s: %w", name, ctx.Err())
	}

	select {
	case res := <-job.done:
		return res.handle, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for %s: %w", name, ctx.Err())
	}
}

func (s *Serializer) process(ctx context.Context, job *queuedWrite) {
	logger := s.logger.With().Str("job", job.name).Str("job_id", job.id.String()).Logger()

	handle, err := job.fn(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("write job failed")
		job.done <- writeResult{err: err}
		return
	}

	if handle != nil {
		if err := s.confirmer.WaitConfirmed(ctx, handle); err != nil {
			logger.Error().Err(err).Str("tx", handle.TxHash.Hex()).Msg("write confirmation failed")
			job.done <- writeResult{handle: handle, err: err}
			return
		}
		logger.Debug().Str("tx", handle.TxHash.Hex()).Msg("write confirmed")
	}

	job.done <- writeResult{handle: handle}
}

func (s *Serializer) reject(cause error) {
	for {
		select {
		case job := <-s.jobs:
			job.done <- writeResult{err: fmt.Errorf("serializer stopped: %w", cause)}
		default:
			return
		}
	}
}
