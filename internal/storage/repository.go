package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertPriceRecordSQL = `INSERT INTO price_history (
        symbol,
        price,
        decimals,
        source,
        tx_hash,
        published_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	listRecentPricesSQL = `SELECT
        id, symbol, price, decimals, source, tx_hash, published_at, created_at
    FROM price_history
    ORDER BY published_at DESC
    LIMIT $1;`

	listPricesBetweenSQL = `SELECT
        id, symbol, price, decimals, source, tx_hash, published_at, created_at
    FROM price_history
    WHERE symbol = $1
      AND published_at >= $2
      AND published_at < $3
    ORDER BY published_at;`

	countPricesSQL = `SELECT COUNT(*) FROM price_history;`

	activeAlertsBySymbolSQL = `SELECT
        id, chat_id, symbol, condition, threshold, status, created_at, triggered_at, notified_at
    FROM alerts
    WHERE symbol = $1
      AND status = 'ACTIVE'
    ORDER BY id;`

	triggerAlertSQL = `UPDATE alerts
    SET status = 'TRIGGERED', triggered_at = now()
    WHERE id = $1
      AND status = 'ACTIVE'
    RETURNING id, chat_id, symbol, condition, threshold, status, created_at, triggered_at, notified_at;`

	markNotifiedSQL = `UPDATE alerts
    SET notified_at = now()
    WHERE id = $1;`

	listRecentAlertsSQL = `SELECT
        id, chat_id, symbol, condition, threshold, status, created_at, triggered_at, notified_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceHistoryStore defines the operations the publish cycle needs against
// local price history.
type PriceHistoryStore interface {
	InsertPriceRecord(ctx context.Context, rec PriceRecord) error
	ListRecentPrices(ctx context.Context, limit int) ([]PriceRecord, error)
	ListPricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceRecord, error)
	CountPrices(ctx context.Context) (int64, error)
}

// AlertStore defines the operations the alert evaluator needs. Alert
// creation and deletion live in the CRUD layer, not here.
type AlertStore interface {
	ActiveAlertsBySymbol(ctx context.Context, symbol string) ([]Alert, error)
	TriggerAlert(ctx context.Context, id int64) (*Alert, error)
	MarkNotified(ctx context.Context, id int64) error
	ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price history and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; the session release covers it anyway
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertPriceRecord appends a published quote to local history.
func (s *Store) InsertPriceRecord(ctx context.Context, rec PriceRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertPriceRecordSQL,
		rec.Symbol,
		rec.Price,
		rec.Decimals,
		rec.Source,
		rec.TxHash,
		rec.PublishedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert price record: %w", execErr)
	}
	return nil
}

// ListRecentPrices lists the most recent history rows, newest first.
func (s *Store) ListRecentPrices(ctx context.Context, limit int) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPricesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent prices: %w", queryErr)
	}
	defer rows.Close()

	return collectPriceRecords(rows, limit)
}

// ListPricesBetween lists one symbol's history within a time window.
func (s *Store) ListPricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list prices between: %w", queryErr)
	}
	defer rows.Close()

	return collectPriceRecords(rows, 0)
}

// CountPrices counts stored history rows.
func (s *Store) CountPrices(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPricesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count prices: %w", scanErr)
	}
	return count, nil
}

// ActiveAlertsBySymbol loads every ACTIVE alert for one symbol.
func (s *Store) ActiveAlertsBySymbol(ctx context.Context, symbol string) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, activeAlertsBySymbolSQL, symbol)
	if queryErr != nil {
		return nil, fmt.Errorf("active alerts by symbol: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, 0)
}

// TriggerAlert transitions an alert ACTIVE -> TRIGGERED and returns the
// updated row. Returns nil when the alert is no longer ACTIVE (no-op), so
// the transition happens at most once regardless of concurrent evaluators.
func (s *Store) TriggerAlert(ctx context.Context, id int64) (*Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, triggerAlertSQL, id)
	alert, scanErr := scanAlert(row.Scan)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("trigger alert %d: %w", id, scanErr)
	}
	return &alert, nil
}

// MarkNotified records the delivery timestamp for a triggered alert.
func (s *Store) MarkNotified(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markNotifiedSQL, id); execErr != nil {
		return fmt.Errorf("mark notified %d: %w", id, execErr)
	}
	return nil
}

// ListRecentAlerts lists the most recently created alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, limit)
}

func collectPriceRecords(rows pgx.Rows, capacity int) ([]PriceRecord, error) {
	records := make([]PriceRecord, 0, capacity)
	for rows.Next() {
		var rec PriceRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&rec.Price,
			&rec.Decimals,
			&rec.Source,
			&rec.TxHash,
			&rec.PublishedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func collectAlerts(rows pgx.Rows, capacity int) ([]Alert, error) {
	alerts := make([]Alert, 0, capacity)
	for rows.Next() {
		alert, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(scan func(...any) error) (Alert, error) {
	var (
		alert       Alert
		condition   string
		status      string
		triggeredAt sql.NullTime
		notifiedAt  sql.NullTime
	)

	if err := scan(
		&alert.ID,
		&alert.ChatID,
		&alert.Symbol,
		&condition,
		&alert.Threshold,
		&status,
		&alert.CreatedAt,
		&triggeredAt,
		&notifiedAt,
	); err != nil {
		return Alert{}, err
	}

	alert.Condition = AlertCondition(condition)
	alert.Status = AlertStatus(status)
	if triggeredAt.Valid {
		value := triggeredAt.Time
		alert.TriggeredAt = &value
	}
	if notifiedAt.Valid {
		value := notifiedAt.Time
		alert.NotifiedAt = &value
	}
	return alert, nil
}
