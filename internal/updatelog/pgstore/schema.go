// Package pgstore is the durable, pgx-backed default implementation of
// the Update Log contract (internal/updatelog.UpdateLog). Grounded on
// the connection-pool/retry shape of internal/database/postgres/pool.go
// and retry.go, and migrated with pressly/goose the way the teacher
// migrates its alert-history schema.
package pgstore

// Schema is the journal's DDL, applied via goose migrations at
// internal/updatelog/pgstore/migrations. Kept here as a single literal
// so the initial migration file and this package agree on column names.
const Schema = `
CREATE TABLE IF NOT EXISTS update_log (
	seq         BIGSERIAL PRIMARY KEY,
	version     BIGINT NOT NULL,
	op          SMALLINT NOT NULL,
	doc_id      TEXT NOT NULL,
	indexed_id  BYTEA,
	doc_json    JSONB,
	query       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS update_log_doc_id_idx ON update_log (doc_id);
CREATE INDEX IF NOT EXISTS update_log_abs_version_idx ON update_log ((abs(version)) DESC);
CREATE INDEX IF NOT EXISTS update_log_dbq_idx ON update_log (op, version) WHERE op = 2;
`
