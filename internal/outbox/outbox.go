// Package outbox is the durable local store every decoded event passes
// through before delivery. It is backed by SQLite in WAL mode with
// synchronous=FULL, so an event is on disk once Append returns.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/pkg/log"
)

// Defaults for Config.
const (
	DefaultMaxRecords = 10000
	DefaultRetention  = 7 * 24 * time.Hour
	DefaultAttemptCap = 5
)

// Config holds the parameters for opening an Outbox.
type Config struct {
	// Path is the SQLite database file. The parent directory must exist.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 2).
	PoolSize int

	// MaxRecords caps the number of rows. The oldest rows are evicted
	// regardless of status once the cap is exceeded.
	MaxRecords int

	// Retention is how long synced rows are kept.
	Retention time.Duration

	// AttemptCap bounds the stored attempt counter.
	AttemptCap int

	Now    func() time.Time
	Logger log.Logger
}

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
		if c.PoolSize < 2 {
			c.PoolSize = 2
		}
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.AttemptCap <= 0 {
		c.AttemptCap = DefaultAttemptCap
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.NewNoopLogger()
	}
}

// Outbox is safe for concurrent use. Writers are serialized by SQLite
// immediate transactions.
type Outbox struct {
	pool    *sqlitex.Pool
	cfg     Config
	logger  log.Logger
	evicted atomic.Int64
}

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	class           TEXT    NOT NULL,
	event_type      TEXT    NOT NULL,
	machine_id      TEXT    NOT NULL,
	amount          TEXT,
	timestamp       INTEGER NOT NULL,
	idempotency_key TEXT,
	raw_payload     TEXT    NOT NULL,
	metadata        TEXT    NOT NULL,
	status          INTEGER NOT NULL DEFAULT 0,
	attempts        INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	synced_at       INTEGER
);
CREATE INDEX IF NOT EXISTS outbox_pending ON outbox (class, status, id);
CREATE INDEX IF NOT EXISTS outbox_synced ON outbox (status, created_at);
`

// Open opens or creates the outbox database. A failure here is fatal to
// the agent: nothing may be decoded without somewhere durable to put it.
func Open(ctx context.Context, cfg Config) (*Outbox, error) {
	if cfg.Path == "" {
		return nil, &domain.PersistenceError{Op: "open", Err: fmt.Errorf("path is required")}
	}
	cfg.applyDefaults()

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    cfg.PoolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "open", Err: fmt.Errorf("%s: %w", cfg.Path, err)}
	}

	o := &Outbox{pool: pool, cfg: cfg, logger: cfg.Logger}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, &domain.PersistenceError{Op: "open", Err: err}
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, &domain.PersistenceError{Op: "create schema", Err: err}
	}

	o.logger.Info("outbox opened",
		log.String("path", cfg.Path),
		log.Int("max_records", cfg.MaxRecords),
		log.Duration("retention", cfg.Retention),
	)
	return o, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the pool. It blocks until borrowed connections return.
func (o *Outbox) Close() error {
	if err := o.pool.Close(); err != nil {
		return &domain.PersistenceError{Op: "close", Err: err}
	}
	return nil
}

// Evicted returns how many rows the cap has evicted since Open.
func (o *Outbox) Evicted() int64 {
	return o.evicted.Load()
}

// Append validates ev, stores it as pending and evicts the oldest rows
// beyond MaxRecords, all in one transaction.
func (o *Outbox) Append(ctx context.Context, ev domain.Event) (id int64, err error) {
	if verr := ev.Validate(); verr != nil {
		return 0, &domain.PersistenceError{Op: "append", Err: fmt.Errorf("invalid event: %w", verr)}
	}
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "append", Err: err}
	}

	conn, err := o.pool.Take(ctx)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "append", Err: err}
	}
	defer o.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "append", Err: err}
	}
	defer end(&err)

	var amount, key any
	if ev.Amount != nil {
		amount = ev.Amount.StringFixed(2)
	}
	if ev.IdempotencyKey != "" {
		key = ev.IdempotencyKey
	}

	err = sqlitex.Execute(conn, `INSERT INTO outbox
		(class, event_type, machine_id, amount, timestamp, idempotency_key,
		 raw_payload, metadata, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			string(ev.Type.Class()),
			string(ev.Type),
			ev.MachineID,
			amount,
			ev.Timestamp.UnixNano(),
			key,
			ev.RawPayload,
			string(meta),
			o.cfg.Now().UnixNano(),
		}})
	if err != nil {
		return 0, &domain.PersistenceError{Op: "append", Err: err}
	}
	id = conn.LastInsertRowID()

	n, err := o.evict(conn)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "evict", Err: err}
	}
	if n > 0 {
		o.evicted.Add(n)
		o.logger.Warn("outbox cap reached, evicted oldest records",
			log.Int64("evicted", n),
			log.Int("max_records", o.cfg.MaxRecords),
		)
	}
	return id, nil
}

func (o *Outbox) evict(conn *sqlite.Conn) (int64, error) {
	var total int64
	err := sqlitex.Execute(conn, "SELECT COUNT(*) FROM outbox", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	excess := total - int64(o.cfg.MaxRecords)
	if excess <= 0 {
		return 0, nil
	}
	err = sqlitex.Execute(conn,
		"DELETE FROM outbox WHERE id IN (SELECT id FROM outbox ORDER BY id ASC LIMIT ?)",
		&sqlitex.ExecOptions{Args: []any{excess}})
	if err != nil {
		return 0, err
	}
	return int64(conn.Changes()), nil
}

const selectColumns = `SELECT id, class, event_type, machine_id, amount, timestamp,
	idempotency_key, raw_payload, metadata, status, attempts, created_at, synced_at
	FROM outbox`

// ListPending returns up to limit pending records of class with fewer than
// maxAttempts attempts, in insertion order.
func (o *Outbox) ListPending(ctx context.Context, class domain.RecordClass, limit, maxAttempts int) ([]domain.OutboxRecord, error) {
	conn, err := o.pool.Take(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list pending", Err: err}
	}
	defer o.pool.Put(conn)

	var records []domain.OutboxRecord
	err = sqlitex.Execute(conn,
		selectColumns+" WHERE class = ? AND status = 0 AND attempts < ? ORDER BY id ASC LIMIT ?",
		&sqlitex.ExecOptions{
			Args: []any{string(class), maxAttempts, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			},
		})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list pending", Err: err}
	}
	return records, nil
}

// Get returns the record with id. The bool is false when it does not exist.
func (o *Outbox) Get(ctx context.Context, id int64) (domain.OutboxRecord, bool, error) {
	conn, err := o.pool.Take(ctx)
	if err != nil {
		return domain.OutboxRecord{}, false, &domain.PersistenceError{Op: "get", Err: err}
	}
	defer o.pool.Put(conn)

	var (
		rec   domain.OutboxRecord
		found bool
	)
	err = sqlitex.Execute(conn, selectColumns+" WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var err error
			rec, err = scanRecord(stmt)
			found = err == nil
			return err
		},
	})
	if err != nil {
		return domain.OutboxRecord{}, false, &domain.PersistenceError{Op: "get", Err: err}
	}
	return rec, found, nil
}

// Columns: id(0), class(1), event_type(2), machine_id(3), amount(4),
// timestamp(5), idempotency_key(6), raw_payload(7), metadata(8),
// status(9), attempts(10), created_at(11), synced_at(12)
func scanRecord(stmt *sqlite.Stmt) (domain.OutboxRecord, error) {
	rec := domain.OutboxRecord{
		ID:        stmt.ColumnInt64(0),
		Class:     domain.RecordClass(stmt.ColumnText(1)),
		Status:    domain.SyncStatus(stmt.ColumnInt(9)),
		Attempts:  stmt.ColumnInt(10),
		CreatedAt: time.Unix(0, stmt.ColumnInt64(11)).UTC(),
	}
	if !stmt.ColumnIsNull(12) {
		rec.SyncedAt = time.Unix(0, stmt.ColumnInt64(12)).UTC()
	}

	ev := domain.Event{
		Type:           domain.EventType(stmt.ColumnText(2)),
		MachineID:      stmt.ColumnText(3),
		Timestamp:      time.Unix(0, stmt.ColumnInt64(5)).UTC(),
		IdempotencyKey: stmt.ColumnText(6),
		RawPayload:     stmt.ColumnText(7),
	}
	if !stmt.ColumnIsNull(4) {
		d, err := decimal.NewFromString(stmt.ColumnText(4))
		if err != nil {
			return rec, fmt.Errorf("record %d: amount: %w", rec.ID, err)
		}
		ev.Amount = &d
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(8)), &ev.Metadata); err != nil {
		return rec, fmt.Errorf("record %d: metadata: %w", rec.ID, err)
	}
	rec.Event = ev
	return rec, nil
}

// MarkSynced marks id delivered. Repeated calls are no-ops.
func (o *Outbox) MarkSynced(ctx context.Context, id int64) error {
	return o.exec(ctx, "mark synced",
		"UPDATE outbox SET status = 1, synced_at = ? WHERE id = ? AND status = 0",
		o.cfg.Now().UnixNano(), id)
}

// IncrementAttempts records a failed delivery. The counter stops at
// AttemptCap.
func (o *Outbox) IncrementAttempts(ctx context.Context, id int64) error {
	return o.exec(ctx, "increment attempts",
		"UPDATE outbox SET attempts = MIN(attempts + 1, ?) WHERE id = ? AND status = 0",
		o.cfg.AttemptCap, id)
}

func (o *Outbox) exec(ctx context.Context, op, query string, args ...any) (err error) {
	conn, err := o.pool.Take(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: op, Err: err}
	}
	defer o.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return &domain.PersistenceError{Op: op, Err: err}
	}
	defer end(&err)

	if err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return &domain.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// Stats summarizes the outbox.
func (o *Outbox) Stats(ctx context.Context) (domain.OutboxStats, error) {
	conn, err := o.pool.Take(ctx)
	if err != nil {
		return domain.OutboxStats{}, &domain.PersistenceError{Op: "stats", Err: err}
	}
	defer o.pool.Put(conn)

	stats := domain.OutboxStats{Pending: map[domain.RecordClass]int64{}}
	for _, c := range domain.Classes {
		stats.Pending[c] = 0
	}
	err = sqlitex.Execute(conn,
		`SELECT class, status, COUNT(*), SUM(CASE WHEN attempts >= ? THEN 1 ELSE 0 END)
		 FROM outbox GROUP BY class, status`,
		&sqlitex.ExecOptions{
			Args: []any{o.cfg.AttemptCap},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				class := domain.RecordClass(stmt.ColumnText(0))
				n := stmt.ColumnInt64(2)
				stats.TotalCount += n
				if domain.SyncStatus(stmt.ColumnInt(1)) == domain.StatusPending {
					stats.PendingCount += n
					stats.Pending[class] += n
					stats.Exhausted += stmt.ColumnInt64(3)
				}
				return nil
			},
		})
	if err != nil {
		return domain.OutboxStats{}, &domain.PersistenceError{Op: "stats", Err: err}
	}
	return stats, nil
}

// Cleanup deletes synced rows created before the retention window. Pending
// rows are never deleted here.
func (o *Outbox) Cleanup(ctx context.Context) (n int64, err error) {
	conn, err := o.pool.Take(ctx)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "cleanup", Err: err}
	}
	defer o.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "cleanup", Err: err}
	}
	defer end(&err)

	cutoff := o.cfg.Now().Add(-o.cfg.Retention).UnixNano()
	err = sqlitex.Execute(conn, "DELETE FROM outbox WHERE status = 1 AND created_at < ?",
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, &domain.PersistenceError{Op: "cleanup", Err: err}
	}
	n = int64(conn.Changes())
	if n > 0 {
		o.logger.Info("outbox cleanup", log.Int64("deleted", n))
	}
	return n, nil
}
