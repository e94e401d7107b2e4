package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	observationColumns = `bucket_ts, source, value::text, unit, raw, block_number, status, error, created_at`

	upsertObservationSQL = `INSERT INTO observations (
        bucket_ts,
        source,
        value,
        unit,
        raw,
        block_number,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (bucket_ts, source) DO UPDATE
    SET
        value        = EXCLUDED.value,
        unit         = EXCLUDED.unit,
        raw          = EXCLUDED.raw,
        block_number = EXCLUDED.block_number,
        status       = EXCLUDED.status,
        error        = EXCLUDED.error
    WHERE observations.status <> 'complete'
       OR EXCLUDED.status = 'complete';`

	listObservationsBetweenSQL = `SELECT ` + observationColumns + `
    FROM observations
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts, source;`

	listRecentObservationsSQL = `SELECT ` + observationColumns + `
    FROM observations
    ORDER BY bucket_ts DESC, source
    LIMIT $1;`

	latestObservationsSQL = `SELECT DISTINCT ON (source) ` + observationColumns + `
    FROM observations
    WHERE status = 'complete'
    ORDER BY source, bucket_ts DESC;`

	countObservationsSQL = `SELECT COUNT(*) FROM observations;`

	insertAlertSQL = `INSERT INTO alerts (
        bucket_ts,
        metric,
        source,
        value,
        label,
        severity,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (bucket_ts, metric, source) DO UPDATE
    SET value    = EXCLUDED.value,
        label    = EXCLUDED.label,
        severity = EXCLUDED.severity,
        channels = EXCLUDED.channels
    RETURNING id, bucket_ts, metric, source, value::text, label, severity, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        bucket_ts,
        metric,
        source,
        value::text,
        label,
        severity,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines operations for the live observation cache.
type ObservationStore interface {
	UpsertObservation(ctx context.Context, obs Observation) error
	ListObservationsBetween(ctx context.Context, from, to time.Time) ([]Observation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]Observation, error)
	LatestObservations(ctx context.Context) ([]Observation, error)
	CountObservations(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations and alerts.
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
		// best effort: the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertObservation persists or updates an observation.
func (s *Store) UpsertObservation(ctx context.Context, obs Observation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var value interface{}
	if obs.Value.Valid {
		value = obs.Value.Decimal.String()
	}

	var raw interface{}
	if len(obs.Raw) > 0 {
		raw = []byte(obs.Raw)
	}

	var block interface{}
	if obs.BlockNumber != nil {
		block = *obs.BlockNumber
	}

	var errMsg interface{}
	if obs.Error != nil {
		errMsg = *obs.Error
	}

	_, execErr := pool.Exec(ctx, upsertObservationSQL,
		obs.Bucket,
		obs.Source,
		value,
		obs.Unit,
		raw,
		block,
		obs.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert observation: %w", execErr)
	}
	return nil
}

// ListObservationsBetween lists observations within a time window.
func (s *Store) ListObservationsBetween(ctx context.Context, from, to time.Time) ([]Observation, error) {
	return s.queryObservations(ctx, "list observations between", listObservationsBetweenSQL, from, to)
}

// ListRecentObservations lists the most recent observations ordered by descending bucket.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]Observation, error) {
	return s.queryObservations(ctx, "list recent observations", listRecentObservationsSQL, limit)
}

// LatestObservations returns the newest complete observation of every source.
func (s *Store) LatestObservations(ctx context.Context) ([]Observation, error) {
	return s.queryObservations(ctx, "latest observations", latestObservationsSQL)
}

func (s *Store) queryObservations(ctx context.Context, op, query string, args ...any) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Bucket,
		alert.Metric,
		alert.Source,
		alert.Value.String(),
		alert.Label,
		alert.Severity,
		alert.Channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var rec AlertRecord
	var valueStr string
	if err := row.Scan(
		&rec.ID,
		&rec.Bucket,
		&rec.Metric,
		&rec.Source,
		&valueStr,
		&rec.Label,
		&rec.Severity,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse alert value: %w", err)
	}
	rec.Value = value
	return rec, nil
}

func scanObservation(rows pgx.Rows) (Observation, error) {
	var (
		bucket    time.Time
		source    string
		valueStr  sql.NullString
		unit      string
		raw       []byte
		block     sql.NullInt64
		status    string
		errMsg    sql.NullString
		createdAt time.Time
	)

	if err := rows.Scan(
		&bucket,
		&source,
		&valueStr,
		&unit,
		&raw,
		&block,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return Observation{}, err
	}

	obs := Observation{
		Bucket:    bucket,
		Source:    source,
		Unit:      unit,
		Status:    status,
		CreatedAt: createdAt,
	}
	if len(raw) > 0 {
		obs.Raw = json.RawMessage(raw)
	}

	if valueStr.Valid {
		value, err := decimal.NewFromString(valueStr.String)
		if err != nil {
			return Observation{}, fmt.Errorf("parse observation value: %w", err)
		}
		obs.Value = decimal.NewNullDecimal(value)
	}
	if block.Valid {
		v := block.Int64
		obs.BlockNumber = &v
	}
	if errMsg.Valid {
		msg := errMsg.String
		obs.Error = &msg
	}

	return obs, nil
}
