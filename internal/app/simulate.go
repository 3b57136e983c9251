package app

import (
	"context"
	"errors"
	"fmt"

	"price-oracle-feed/internal/alerting"
	"price-oracle-feed/internal/quote"
)

// SimulateAlert 用给定的价格对某个交易对执行一次告警评估。
// 不经过账本写入，只走数据库状态流转和通知链路。
func (a *App) SimulateAlert(ctx context.Context, symbol, price string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	parsed, err := quote.Parse(price, quote.DefaultDecimals)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", price, err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot simulate alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	evaluator, err := alerting.NewEvaluator(store, nil, nil, a.newNotifier(), alerting.EvaluatorOptions{
		DedupCapacity: a.Config.Alerting.DedupCapacity,
	}, a.Logger)
	if err != nil {
		return err
	}

	triggered, err := evaluator.Evaluate(ctx, symbol, parsed)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("symbol", symbol).
		Str("price", quote.Format(parsed, quote.DefaultDecimals)).
		Ints64("triggered", triggered).
		Msg("simulated alert evaluation complete")
	return nil
}
