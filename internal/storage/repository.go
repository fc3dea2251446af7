package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listActiveRulesSQL = `SELECT
        id,
        user_id,
        symbol,
        threshold_price,
        direction,
        note,
        created_at
    FROM alert_rules
    WHERE active
    ORDER BY id;`

	deactivateRuleSQL = `UPDATE alert_rules
    SET active = FALSE
    WHERE id = $1;`

	listFavoriteSymbolsSQL = `SELECT DISTINCT symbol
    FROM favorite_symbols
    ORDER BY symbol;`

	insertFiredAlertSQL = `INSERT INTO fired_alerts (
        rule_id,
        user_id,
        symbol,
        price,
        threshold_price,
        direction,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	listRecentFiredSQL = `SELECT
        id,
        rule_id,
        user_id,
        symbol,
        price,
        threshold_price,
        direction,
        fired_at,
        created_at
    FROM fired_alerts
    ORDER BY fired_at DESC
    LIMIT $1;`

	deleteFiredBeforeSQL = `DELETE FROM fired_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertRuleStore feeds the evaluator with pending rules and takes back
// deactivations once a rule has fired and been dispatched.
type AlertRuleStore interface {
	ListActiveRules(ctx context.Context) ([]alerting.Rule, error)
	DeactivateRule(ctx context.Context, id int64) error
}

// FavoriteStore supplies the user-favorited symbols pre-warmed into the
// price cache each cycle.
type FavoriteStore interface {
	ListFavoriteSymbols(ctx context.Context) ([]string, error)
}

// FiredAlertStore audits dispatched alerts.
type FiredAlertStore interface {
	InsertFiredAlert(ctx context.Context, rec FiredAlert) (FiredAlert, error)
	ListRecentFired(ctx context.Context, limit int) ([]FiredAlert, error)
	DeleteFiredBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to alert rules, favorites, and the fired-alert
// audit log.
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

// ListActiveRules returns all rules awaiting evaluation.
func (s *Store) ListActiveRules(ctx context.Context) ([]alerting.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveRulesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]alerting.Rule, 0)
	for rows.Next() {
		var rule alerting.Rule
		var thresholdStr string
		if err := rows.Scan(
			&rule.ID,
			&rule.UserID,
			&rule.Symbol,
			&thresholdStr,
			&rule.Direction,
			&rule.Note,
			&rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		rule.Threshold, err = decimal.NewFromString(thresholdStr)
		if err != nil {
			return nil, fmt.Errorf("parse threshold price: %w", err)
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// DeactivateRule retires a rule after it has been dispatched.
func (s *Store) DeactivateRule(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deactivateRuleSQL, id)
	if execErr != nil {
		return fmt.Errorf("deactivate rule: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListFavoriteSymbols returns the distinct favorited tickers.
func (s *Store) ListFavoriteSymbols(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listFavoriteSymbolsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list favorite symbols: %w", queryErr)
	}
	defer rows.Close()

	symbols := make([]string, 0)
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return symbols, nil
}

// InsertFiredAlert persists one dispatched alert.
func (s *Store) InsertFiredAlert(ctx context.Context, rec FiredAlert) (FiredAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return FiredAlert{}, err
	}

	row := pool.QueryRow(ctx, insertFiredAlertSQL,
		rec.RuleID,
		rec.UserID,
		rec.Symbol,
		rec.Price.String(),
		rec.Threshold.String(),
		rec.Direction,
		rec.FiredAt,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return FiredAlert{}, fmt.Errorf("insert fired alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentFired lists the most recently fired alerts.
func (s *Store) ListRecentFired(ctx context.Context, limit int) ([]FiredAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFiredSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent fired alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]FiredAlert, 0, limit)
	for rows.Next() {
		var rec FiredAlert
		var priceStr, thresholdStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.RuleID,
			&rec.UserID,
			&rec.Symbol,
			&priceStr,
			&thresholdStr,
			&rec.Direction,
			&rec.FiredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse fired price: %w", convErr)
		}
		rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse fired threshold: %w", convErr)
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteFiredBefore prunes historical audit records.
func (s *Store) DeleteFiredBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteFiredBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete fired alerts before: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns
// a release func.
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
		// Unlock is best effort; the session dropping releases it anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ AlertRuleStore  = (*Store)(nil)
	_ FavoriteStore   = (*Store)(nil)
	_ FiredAlertStore = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
