package publisher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"price-oracle-feed/internal/ledger"
	"price-oracle-feed/internal/quote"
	"price-oracle-feed/internal/scheduler"
	"price-oracle-feed/internal/storage"
)

// State is the publish cycle's current phase.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StatePublishing:
		return "publishing"
	default:
		return "idle"
	}
}

// Aggregator produces one canonical quote per symbol per cycle.
type Aggregator interface {
	Aggregate(ctx context.Context, symbols []string) map[string]quote.PriceQuote
}

// WriteSubmitter enqueues a write job on the shared serializer.
type WriteSubmitter interface {
	Submit(ctx context.Context, name string, fn ledger.WriteFunc) (*ledger.WriteHandle, error)
}

// PriceWriter publishes one quote to the ledger.
type PriceWriter interface {
	PublishPrice(ctx context.Context, q quote.PriceQuote) (*ledger.WriteHandle, error)
}

// AlertEvaluator consumes a newly published quote.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, symbol string, price int64) ([]int64, error)
}

// Options tune the publish cycle.
type Options struct {
	Symbols     []string
	EvalTimeout time.Duration
}

// Cycle runs the IDLE -> FETCHING -> PUBLISHING loop: aggregate quotes,
// publish each through the write serializer, persist local history, and
// hand every confirmed quote to the alert evaluator as a supervised
// background task.
type Cycle struct {
	opts       Options
	aggregator Aggregator
	serializer WriteSubmitter
	writer     PriceWriter
	history    storage.PriceHistoryStore
	evaluator  AlertEvaluator
	logger     zerolog.Logger

	state atomic.Int32
	tasks sync.WaitGroup
}

// New constructs a publish cycle. history and evaluator may be nil.
func New(opts Options, aggregator Aggregator, serializer WriteSubmitter, writer PriceWriter, history storage.PriceHistoryStore, evaluator AlertEvaluator, logger zerolog.Logger) *Cycle {
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = 30 * time.Second
	}
	return &Cycle{
		opts:       opts,
		aggregator: aggregator,
		serializer: serializer,
		writer:     writer,
		history:    history,
		evaluator:  evaluator,
		logger:     logger.With().Str("component", "publish_cycle").Logger(),
	}
}

// Run drives ticks through the scheduler until ctx is cancelled, then
// drains in-flight alert evaluations so they are not dropped on exit.
func (c *Cycle) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	err := sched.Run(ctx, c.Tick)
	c.Drain()
	return err
}

// State reports the current phase of the cycle.
func (c *Cycle) State() State {
	return State(c.state.Load())
}

// Tick executes one full publish cycle. One bad symbol never blocks the
// others.
func (c *Cycle) Tick(ctx context.Context, at time.Time) error {
	c.state.Store(int32(StateFetching))
	defer c.state.Store(int32(StateIdle))

	quotes := c.aggregator.Aggregate(ctx, c.opts.Symbols)
	if len(quotes) == 0 {
		c.logger.Warn().Time("tick", at).Msg("no quotes resolved this cycle")
		return nil
	}

	c.state.Store(int32(StatePublishing))
	published := 0
	for _, symbol := range c.opts.Symbols {
		q, ok := quotes[symbol]
		if !ok {
			continue
		}
		if err := q.Validate(); err != nil {
			c.logger.Error().Err(err).Str("symbol", symbol).Msg("malformed quote skipped")
			continue
		}

		handle, err := c.serializer.Submit(ctx, "publish-"+symbol, func(ctx context.Context) (*ledger.WriteHandle, error) {
			return c.writer.PublishPrice(ctx, q)
		})
		if err != nil {
			c.logger.Error().Err(err).Str("symbol", symbol).Msg("publish failed; continuing with next symbol")
			continue
		}
		published++

		c.appendHistory(ctx, q, handle)
		c.spawnEvaluation(q)

		c.logger.Info().
			Str("symbol", symbol).
			Str("price", quote.Format(q.Price, q.Decimals)).
			Str("source", string(q.Source)).
			Msg("quote published")
	}

	c.logger.Info().Time("tick", at).Int("published", published).Int("resolved", len(quotes)).Msg("cycle complete")
	return nil
}

// Drain blocks until all background alert evaluations finish.
func (c *Cycle) Drain() {
	c.tasks.Wait()
}

func (c *Cycle) appendHistory(ctx context.Context, q quote.PriceQuote, handle *ledger.WriteHandle) {
	if c.history == nil {
		return
	}
	rec := storage.PriceRecord{
		Symbol:      q.Symbol,
		Price:       q.Price,
		Decimals:    int16(q.Decimals),
		Source:      string(q.Source),
		PublishedAt: q.At(),
	}
	if handle != nil {
		rec.TxHash = handle.TxHash.Hex()
	}
	if err := c.history.InsertPriceRecord(ctx, rec); err != nil {
		c.logger.Error().Err(err).Str("symbol", q.Symbol).Msg("failed to append price history")
	}
}

// spawnEvaluation hands the quote to the alert evaluator without blocking
// the publish loop. The task runs on its own deadline, detached from the
// tick's context, and is tracked so Drain can wait for it.
func (c *Cycle) spawnEvaluation(q quote.PriceQuote) {
	if c.evaluator == nil {
		return
	}
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.EvalTimeout)
		defer cancel()
		if _, err := c.evaluator.Evaluate(ctx, q.Symbol, q.Price); err != nil {
			c.logger.Error().Err(err).Str("symbol", q.Symbol).Msg("alert evaluation failed")
		}
	}()
}
