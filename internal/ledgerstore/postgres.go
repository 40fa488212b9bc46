package ledgerstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/specialistvlad/actiongrid/internal/ledger"
)

const schema = `CREATE TABLE IF NOT EXISTS ledger_records (
	run_id     TEXT        NOT NULL,
	seq        BIGINT      NOT NULL,
	event_type TEXT        NOT NULL,
	node_id    TEXT        NOT NULL DEFAULT '',
	ts         TIMESTAMPTZ NOT NULL,
	payload    JSONB,
	PRIMARY KEY (run_id, seq)
)`

// PostgresConfig holds connection settings for the SQL store.
type PostgresConfig struct {
	URL          string
	PingTimeout  time.Duration
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultPostgresConfig returns conservative pool settings for url.
func DefaultPostgresConfig(url string) PostgresConfig {
	return PostgresConfig{URL: url, PingTimeout: 2 * time.Second, MaxOpenConns: 4, MaxIdleConns: 2}
}

// Validate reports configuration mistakes.
func (c PostgresConfig) Validate() error {
	if c.URL == "" {
		return errors.New("postgres url is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("postgres ping timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("postgres max open connections must be >= 1")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("postgres max idle connections must be between 0 and max open connections")
	}
	return nil
}

// PostgresStore keeps ledger records in a single table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects, checks the connection and creates the table when
// it does not exist.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Publish inserts rec. A record that is already stored is ignored.
func (s *PostgresStore) Publish(ctx context.Context, rec ledger.Record) error {
	var payload []byte
	if rec.Payload != nil {
		var err error
		if payload, err = json.Marshal(rec.Payload); err != nil {
			return fmt.Errorf("encode payload of record %d: %w", rec.Seq, err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_records (run_id, seq, event_type, node_id, ts, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.RunID,
		int64(rec.Seq),
		string(rec.Type),
		rec.NodeID,
		rec.Timestamp,
		payload,
	)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("insert ledger record %d: %w", rec.Seq, err)
	}
	return nil
}

// Load returns the stored history of runID.
func (s *PostgresStore) Load(ctx context.Context, runID string) ([]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_type, node_id, ts, payload
		FROM ledger_records WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger records: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		var (
			seq     int64
			typ     string
			payload []byte
		)
		rec := ledger.Record{RunID: runID}
		if err := rows.Scan(&seq, &typ, &rec.NodeID, &rec.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		rec.Seq = uint64(seq)
		rec.Type = ledger.EventType(typ)
		rec.Timestamp = rec.Timestamp.UTC()
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of record %d: %w", seq, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
