package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-oracle-feed/internal/aggregator"
	"price-oracle-feed/internal/alerting"
	"price-oracle-feed/internal/config"
	"price-oracle-feed/internal/fetcher"
	"price-oracle-feed/internal/ledger"
	"price-oracle-feed/internal/publisher"
	"price-oracle-feed/internal/scheduler"
	"price-oracle-feed/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetchers() (fetcher.PriceFetcher, fetcher.PriceFetcher) {
	primary := fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:    a.Config.CoinGecko.BaseURL,
		APIKeys:    a.Config.CoinGecko.APIKeys,
		IDBySymbol: a.Config.CoinGecko.IDBySymbol,
		Timeout:    a.Config.CoinGecko.RequestTimeout,
		UserAgent:  a.Config.CoinGecko.UserAgent,
	}, a.Logger)

	var secondary fetcher.PriceFetcher
	if a.Config.Oracle.Enabled {
		secondary = fetcher.NewOracle(fetcher.OracleOptions{
			Enabled:         true,
			RPCURL:          a.Config.Oracle.RPCURL,
			ContractAddress: a.Config.Oracle.ContractAddress,
			Timeout:         a.Config.Oracle.RequestTimeout,
			MaxInflight:     a.Config.Oracle.MaxInflight,
		}, a.Logger)
	}

	return primary, secondary
}

func (a *App) newLedger() (*ledger.Client, *ledger.Serializer, error) {
	client, err := ledger.NewClient(ledger.Options{
		RPCURL:          a.Config.Ledger.RPCURL,
		ContractAddress: a.Config.Ledger.ContractAddress,
		PrivateKey:      a.Config.Ledger.PrivateKey,
		ChainID:         a.Config.Ledger.ChainID,
		GasLimit:        a.Config.Ledger.GasLimit,
		GasMultiplier:   a.Config.Ledger.GasMultiplier,
		ConfirmTimeout:  a.Config.Ledger.ConfirmTimeout,
		PollInterval:    a.Config.Ledger.PollInterval,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}

	serializer := ledger.NewSerializer(client, ledger.SerializerOptions{
		QueueSize:     a.Config.Ledger.QueueSize,
		InterJobDelay: a.Config.Ledger.InterJobDelay,
	}, a.Logger)

	return client, serializer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running publish service: acquire the writer lock,
// start the write serializer, then drive publish cycles until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence and alerting disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	// The advisory lock guards the writer identity across processes: two
	// publishers signing with the same key would corrupt nonce ordering.
	if store != nil {
		unlock, acquired, lockErr := store.TryAdvisoryLock(ctx, a.Config.Publisher.AdvisoryLockKey)
		if lockErr != nil {
			return lockErr
		}
		if !acquired {
			return errors.New("another publisher already holds the writer lock")
		}
		defer unlock()
	}

	client, serializer, err := a.newLedger()
	if err != nil {
		return err
	}
	a.Logger.Info().Str("wallet", client.WalletAddress().Hex()).Msg("writer identity loaded")

	primary, secondary := a.newFetchers()
	agg := aggregator.New(primary, secondary, a.Logger)

	var evaluator publisher.AlertEvaluator
	if a.Config.Alerting.Enabled && store != nil {
		eval, evalErr := alerting.NewEvaluator(store, serializer, client, a.newNotifier(), alerting.EvaluatorOptions{
			DedupCapacity: a.Config.Alerting.DedupCapacity,
		}, a.Logger)
		if evalErr != nil {
			return evalErr
		}
		evaluator = eval
	}

	var history storage.PriceHistoryStore
	if store != nil {
		history = store
	}

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Publisher.Interval,
		AlignToInterval: a.Config.Publisher.AlignToInterval,
		StartupDelay:    a.Config.Publisher.StartupDelay,
	}, a.Logger)

	cycle := publisher.New(publisher.Options{
		Symbols:     a.Config.Publisher.Symbols,
		EvalTimeout: a.Config.Publisher.EvalTimeout,
	}, agg, serializer, client, history, evaluator, a.Logger)

	// The serializer runs on its own context so it can still drain alert
	// writes after the run context is cancelled; it stops only once the
	// cycle has finished draining.
	serCtx, stopSerializer := context.WithCancel(context.Background())
	serDone := make(chan struct{})
	go func() {
		defer close(serDone)
		if serErr := serializer.Run(serCtx); serErr != nil && !errors.Is(serErr, context.Canceled) {
			a.Logger.Error().Err(serErr).Msg("write serializer terminated with error")
		}
	}()

	a.Logger.Info().Strs("symbols", a.Config.Publisher.Symbols).Msg("starting publish service")
	err = cycle.Run(ctx, sched)

	stopSerializer()
	<-serDone

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("publish service terminated with error")
		return err
	}

	a.Logger.Info().Msg("publish service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	Limit int
}
