// Package pgstore keeps a timevault event log in a PostgreSQL table
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kode4food/timevault"
)

// Backend stores one row per event. The sequence is the primary key, and an
// insert only succeeds when it extends the table by exactly one. Timestamps
// are stored as Unix nanoseconds so that reloaded events compare equal to
// the ones appended
type Backend struct {
	pool    *pgxpool.Pool
	queries queries
}

type queries struct {
	createTable string
	createIndex string
	insert      string
	selectFrom  string
	head        string
}

const uniqueViolation = "23505"

var _ timevault.Backend = (*Backend)(nil)

// Open connects to Postgres and creates the event table if needed
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b, err := NewBackend(ctx, pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewBackend uses an existing pool, creating the event table if needed.
// Closing the Backend closes the pool
func NewBackend(
	ctx context.Context, pool *pgxpool.Pool, table string,
) (*Backend, error) {
	if table == "" {
		table = DefaultTable
	}
	b := &Backend{
		pool:    pool,
		queries: buildQueries(table),
	}
	if _, err := pool.Exec(ctx, b.queries.createTable); err != nil {
		return nil, fmt.Errorf("create event table: %w", err)
	}
	if _, err := pool.Exec(ctx, b.queries.createIndex); err != nil {
		return nil, fmt.Errorf("create event index: %w", err)
	}
	return b, nil
}

func (b *Backend) Append(ctx context.Context, ev *timevault.Event) error {
	var target *int64
	if ev.Target != nil {
		ns := ev.Target.UnixNano()
		target = &ns
	}
	var payload []byte
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}

	tag, err := b.pool.Exec(ctx, b.queries.insert,
		ev.Sequence, ev.Timestamp.UnixNano(), string(ev.Kind),
		string(ev.RecordID), payload, target,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return b.conflict(ctx, ev.Sequence)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return b.conflict(ctx, ev.Sequence)
	}
	return nil
}

func (b *Backend) ReadFrom(
	ctx context.Context, fromSeq int64,
) ([]*timevault.Event, error) {
	rows, err := b.pool.Query(ctx, b.queries.selectFrom, max(fromSeq, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []*timevault.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (b *Backend) Head(ctx context.Context) (int64, error) {
	var head int64
	if err := b.pool.QueryRow(ctx, b.queries.head).Scan(&head); err != nil {
		return 0, err
	}
	return head, nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func (b *Backend) conflict(ctx context.Context, seq int64) error {
	head, err := b.Head(ctx)
	if err != nil {
		return err
	}
	return &timevault.ConflictError{
		ExpectedSequence: seq,
		ActualSequence:   head + 1,
	}
}

func scanEvent(rows pgx.Rows) (*timevault.Event, error) {
	var (
		seq      int64
		tsNanos  int64
		kind     string
		recordID string
		payload  []byte
		target   *int64
	)
	if err := rows.Scan(
		&seq, &tsNanos, &kind, &recordID, &payload, &target,
	); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	ev := &timevault.Event{
		Sequence:  seq,
		Timestamp: time.Unix(0, tsNanos).UTC(),
		Kind:      timevault.EventKind(kind),
		RecordID:  timevault.RecordID(recordID),
	}
	if len(payload) > 0 {
		ev.Payload = json.RawMessage(payload)
	}
	if target != nil {
		t := time.Unix(0, *target).UTC()
		ev.Target = &t
	}
	return ev, nil
}

func buildQueries(table string) queries {
	ident := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{table + "_record_ts_idx"}.Sanitize()
	return queries{
		createTable: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				sequence     BIGINT PRIMARY KEY,
				timestamp_ns BIGINT NOT NULL,
				kind         TEXT NOT NULL,
				record_id    TEXT NOT NULL DEFAULT '',
				payload      JSON,
				target_ns    BIGINT
			)`, ident),
		createIndex: fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s
				ON %s (record_id, timestamp_ns)`, index, ident),
		insert: fmt.Sprintf(`
			INSERT INTO %[1]s
				(sequence, timestamp_ns, kind, record_id, payload, target_ns)
			SELECT $1::bigint, $2::bigint, $3::text, $4::text, $5::json,
				$6::bigint
			WHERE (SELECT COALESCE(MAX(sequence), 0) FROM %[1]s) =
				$1::bigint - 1`,
			ident),
		selectFrom: fmt.Sprintf(`
			SELECT sequence, timestamp_ns, kind, record_id, payload, target_ns
			FROM %s
			WHERE sequence >= $1
			ORDER BY sequence`, ident),
		head: fmt.Sprintf(
			`SELECT COALESCE(MAX(sequence), 0) FROM %s`, ident,
		),
	}
}
