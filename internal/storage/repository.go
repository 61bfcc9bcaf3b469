package storage

import (
	"context"
	"database/sql"
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
	insertRunSampleSQL = `INSERT INTO run_samples (
        run_id,
        input,
        window_since,
        window_until,
        measurement_count,
        anomaly_count,
        failure_count,
        confirmed_count,
        anomaly_rate,
        weird_rate,
        rate_change,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    );`

	listSamplesForInputSQL = `SELECT
        id,
        run_id,
        input,
        window_since,
        window_until,
        measurement_count,
        anomaly_count,
        failure_count,
        confirmed_count,
        anomaly_rate,
        weird_rate,
        rate_change,
        status,
        error,
        created_at
    FROM run_samples
    WHERE input = $1
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at;`

	listRecentSamplesSQL = `SELECT
        id,
        run_id,
        input,
        window_since,
        window_until,
        measurement_count,
        anomaly_count,
        failure_count,
        confirmed_count,
        anomaly_rate,
        weird_rate,
        rate_change,
        status,
        error,
        created_at
    FROM run_samples
    ORDER BY created_at DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM run_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        run_id,
        input,
        rate_change,
        threshold
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, run_id, input, rate_change, threshold, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        run_id,
        input,
        rate_change,
        threshold,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunSampleStore defines operations for run-sample persistence.
type RunSampleStore interface {
	InsertRunSample(ctx context.Context, sample RunSample) error
	ListSamplesForInput(ctx context.Context, input string, from, to time.Time) ([]RunSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]RunSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers used to keep two runs from
// mutating watcher state at the same time.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to run samples and alerts.
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
		// Best effort; releasing the connection drops the lock anyway.
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

// InsertRunSample persists one input's outcome for a run.
func (s *Store) InsertRunSample(ctx context.Context, sample RunSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var change interface{}
	if sample.Change != nil {
		change = sample.Change.String()
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, insertRunSampleSQL,
		sample.RunID,
		sample.Input,
		sample.WindowSince,
		sample.WindowUntil,
		sample.Measurements,
		sample.Anomalies,
		sample.Failures,
		sample.Confirmed,
		sample.AnomalyRate.String(),
		sample.WeirdRate.String(),
		change,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("insert run sample: %w", execErr)
	}
	return nil
}

// ListSamplesForInput lists one input's samples within a time window.
func (s *Store) ListSamplesForInput(ctx context.Context, input string, from, to time.Time) ([]RunSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesForInputSQL, input, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples for input: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RunSample, 0)
	for rows.Next() {
		sample, scanErr := scanRunSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending creation time.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]RunSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RunSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanRunSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
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
		alert.RunID,
		alert.Input,
		alert.Change.String(),
		alert.Threshold.String(),
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

func scanRunSample(row pgx.Row) (RunSample, error) {
	var (
		sample     RunSample
		anomalyStr string
		weirdStr   string
		changeStr  sql.NullString
		errMsg     sql.NullString
	)

	if err := row.Scan(
		&sample.ID,
		&sample.RunID,
		&sample.Input,
		&sample.WindowSince,
		&sample.WindowUntil,
		&sample.Measurements,
		&sample.Anomalies,
		&sample.Failures,
		&sample.Confirmed,
		&anomalyStr,
		&weirdStr,
		&changeStr,
		&sample.Status,
		&errMsg,
		&sample.CreatedAt,
	); err != nil {
		return RunSample{}, err
	}

	var err error
	sample.AnomalyRate, err = decimal.NewFromString(anomalyStr)
	if err != nil {
		return RunSample{}, fmt.Errorf("parse anomaly rate: %w", err)
	}
	sample.WeirdRate, err = decimal.NewFromString(weirdStr)
	if err != nil {
		return RunSample{}, fmt.Errorf("parse weird rate: %w", err)
	}
	if changeStr.Valid {
		change, convErr := decimal.NewFromString(changeStr.String)
		if convErr != nil {
			return RunSample{}, fmt.Errorf("parse rate change: %w", convErr)
		}
		sample.Change = &change
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec          AlertRecord
		changeStr    string
		thresholdStr string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.RunID,
		&rec.Input,
		&changeStr,
		&thresholdStr,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	rec.Change, err = decimal.NewFromString(changeStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse rate change: %w", err)
	}
	rec.Threshold, err = decimal.NewFromString(thresholdStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold: %w", err)
	}

	return rec, nil
}
