package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/updatelog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config configures the pgx-backed journal.
type Config struct {
	DSN            string
	MaxConnections int32
	ConnectTimeout time.Duration
}

// Log is the production UpdateLog, durable via PostgreSQL. Connection
// handling follows internal/database/postgres/pool.go: a pgxpool.Pool
// wrapped with explicit lifecycle methods and structured logging on
// every state transition.
type Log struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects, migrates, and returns a ready Log.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse journal dsn: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open journal pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	if err := migrate(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}

	logger.Info("journal connected", "max_connections", poolConfig.MaxConns)
	return &Log{pool: pool, logger: logger}, nil
}

func migrate(dsn string) error {
	goose.SetBaseFS(migrationsFS)
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.Up(db, "migrations")
}

func (l *Log) insert(ctx context.Context, rec updatelog.Record) error {
	var docJSON []byte
	var err error
	if rec.Doc != nil {
		docJSON, err = json.Marshal(rec.Doc)
		if err != nil {
			return &corecmd.IOFailureError{Op: "marshal doc", Cause: err}
		}
	}

	_, err = l.pool.Exec(ctx,
		`INSERT INTO update_log (version, op, doc_id, indexed_id, doc_json, query) VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.Version, int16(rec.Op), rec.ID, rec.IndexedID, docJSON, rec.Query)
	if err != nil {
		return &corecmd.IOFailureError{Op: "insert journal record", Cause: err}
	}
	return nil
}

func (l *Log) Add(ctx context.Context, rec updatelog.Record, underLock bool) error {
	return l.insert(ctx, rec)
}

func (l *Log) Delete(ctx context.Context, rec updatelog.Record) error {
	return l.insert(ctx, rec)
}

func (l *Log) DeleteByQuery(ctx context.Context, rec updatelog.Record) error {
	return l.insert(ctx, rec)
}

func (l *Log) LookupVersion(ctx context.Context, id string) (int64, bool, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT version FROM update_log WHERE doc_id = $1 ORDER BY seq DESC LIMIT 1`, id)

	var version int64
	if err := row.Scan(&version); err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, &corecmd.IOFailureError{Op: "lookup version", Cause: err}
	}
	if version < 0 {
		// The latest record is a delete tombstone: the document is absent.
		return 0, false, nil
	}
	return version, true, nil
}

func (l *Log) GetRecentUpdates(ctx context.Context, n int) (updatelog.RecentUpdatesIterator, error) {
	// n < 0 means "all rows" (per RecentVersionsSource/fingerprint callers);
	// Postgres rejects a negative LIMIT, so that case drops the clause
	// instead of passing n straight through.
	query := `SELECT version, op, doc_id, indexed_id, doc_json, query
		 FROM update_log ORDER BY abs(version) DESC`
	var rows pgx.Rows
	var err error
	if n < 0 {
		rows, err = l.pool.Query(ctx, query)
	} else {
		rows, err = l.pool.Query(ctx, query+` LIMIT $1`, n)
	}
	if err != nil {
		return nil, &corecmd.IOFailureError{Op: "query recent updates", Cause: err}
	}
	return &rowsIterator{rows: rows}, nil
}

func (l *Log) GetDBQNewer(ctx context.Context, v int64) ([]updatelog.Record, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT version, op, doc_id, indexed_id, doc_json, query
		 FROM update_log WHERE op = $1 AND abs(version) > $2 ORDER BY abs(version) ASC`,
		int16(updatelog.OpDeleteByQuery), v)
	if err != nil {
		return nil, &corecmd.IOFailureError{Op: "query dbq newer", Cause: err}
	}
	defer rows.Close()

	var out []updatelog.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *Log) PreCommit(ctx context.Context) error      { return nil }
func (l *Log) PostCommit(ctx context.Context) error     { return nil }
func (l *Log) PreSoftCommit(ctx context.Context) error  { return nil }
func (l *Log) PostSoftCommit(ctx context.Context) error { return nil }
func (l *Log) OpenRealtimeSearcher(ctx context.Context) error { return nil }

func (l *Log) TotalSize() int64 {
	row := l.pool.QueryRow(context.Background(), `SELECT pg_total_relation_size('update_log')`)
	var size int64
	if err := row.Scan(&size); err != nil {
		return 0
	}
	return size
}

func (l *Log) TotalFiles() int { return 1 }

func (l *Log) Close(ctx context.Context) error {
	l.pool.Close()
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (updatelog.Record, error) {
	var (
		version   int64
		op        int16
		docID     string
		indexedID []byte
		docJSON   []byte
		query     *string
	)
	if err := row.Scan(&version, &op, &docID, &indexedID, &docJSON, &query); err != nil {
		return updatelog.Record{}, &corecmd.IOFailureError{Op: "scan journal record", Cause: err}
	}

	rec := updatelog.Record{
		Op:        updatelog.OpCode(op),
		Version:   version,
		ID:        docID,
		IndexedID: indexedID,
	}
	if query != nil {
		rec.Query = *query
	}
	if len(docJSON) > 0 {
		var doc corecmd.Doc
		if err := json.Unmarshal(docJSON, &doc); err != nil {
			return updatelog.Record{}, &corecmd.IOFailureError{Op: "unmarshal doc", Cause: err}
		}
		rec.Doc = &doc
	}
	return rec, nil
}

type rowsIterator struct {
	rows pgx.Rows
}

func (it *rowsIterator) Next() (updatelog.Record, bool, error) {
	if !it.rows.Next() {
		return updatelog.Record{}, false, it.rows.Err()
	}
	rec, err := scanRecord(it.rows)
	if err != nil {
		return updatelog.Record{}, false, err
	}
	return rec, true, nil
}

func (it *rowsIterator) Close() error {
	it.rows.Close()
	return nil
}
