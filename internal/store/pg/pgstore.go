// Package pg backs the topic, ledger and capacity stores with Postgres.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"topiary.org/internal/capacity"
	"topiary.org/internal/fault"
	"topiary.org/internal/ids"
	"topiary.org/internal/ledger"
	"topiary.org/internal/topic"
)

const pgUniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store owns the connection pool. The typed sub-stores share it.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool (tests use sqlmock here).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Topics() *TopicStore      { return &TopicStore{db: s.db} }
func (s *Store) Ledger() *LedgerStore     { return &LedgerStore{db: s.db} }
func (s *Store) Capacity() *CapacityStore { return &CapacityStore{db: s.db} }

// --- topics ---

type TopicStore struct {
	db *sql.DB
}

var _ topic.Store = (*TopicStore)(nil)

const topicColumns = `id, category, raw_title, canonical_name, compliant, pinned_message_id,
	stakeholders, deadline, dependency_ids, replies, views, priority_score, extension,
	last_audited_at, last_polished_at, created_at`

func (s *TopicStore) Get(ctx context.Context, id string) (topic.Topic, error) {
	row := s.db.QueryRowContext(ctx, `select `+topicColumns+` from topics where id=$1`, id)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return topic.Topic{}, fmt.Errorf("%w: topic %s", fault.ErrNotFound, id)
	}
	return t, err
}

func (s *TopicStore) Put(ctx context.Context, t topic.Topic) error {
	if t.ID == "" {
		return fmt.Errorf("%w: topic id is required", fault.ErrValidation)
	}
	return s.upsert(ctx, s.db, t)
}

func (s *TopicStore) PutBatch(ctx context.Context, topics []topic.Topic) error {
	for _, t := range topics {
		if t.ID == "" {
			return fmt.Errorf("%w: topic id is required", fault.ErrValidation)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, t := range topics {
		if err := s.upsert(ctx, tx, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *TopicStore) upsert(ctx context.Context, ex execer, t topic.Topic) error {
	stakeholders, err := json.Marshal(t.Stakeholders)
	if err != nil {
		return err
	}
	deps, err := json.Marshal(t.DependencyIDs)
	if err != nil {
		return err
	}
	ext, err := json.Marshal(t.Extension)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, `
		insert into topics (`+topicColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		on conflict (id) do update set
			category = excluded.category,
			raw_title = excluded.raw_title,
			canonical_name = excluded.canonical_name,
			compliant = excluded.compliant,
			pinned_message_id = excluded.pinned_message_id,
			stakeholders = excluded.stakeholders,
			deadline = excluded.deadline,
			dependency_ids = excluded.dependency_ids,
			replies = excluded.replies,
			views = excluded.views,
			priority_score = excluded.priority_score,
			extension = excluded.extension,
			last_audited_at = excluded.last_audited_at,
			last_polished_at = excluded.last_polished_at
	`, t.ID, t.Category, t.RawTitle, t.CanonicalName, t.Compliant, nullString(t.PinnedMessageID),
		stakeholders, t.Deadline, deps, t.Replies, t.Views, t.PriorityScore, ext,
		t.LastAuditedAt, t.LastPolishedAt, t.CreatedAt)
	return err
}

func (s *TopicStore) List(ctx context.Context, category string) ([]topic.Topic, error) {
	q := psql.Select(topicColumns).From("topics").OrderBy("id")
	if category != "" {
		q = q.Where(sq.Eq{"category": category})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []topic.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTopic(row scanner) (topic.Topic, error) {
	var (
		t            topic.Topic
		pinned       sql.NullString
		stakeholders []byte
		deps         []byte
		ext          []byte
		deadline     sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Category, &t.RawTitle, &t.CanonicalName, &t.Compliant, &pinned,
		&stakeholders, &deadline, &deps, &t.Replies, &t.Views, &t.PriorityScore, &ext,
		&t.LastAuditedAt, &t.LastPolishedAt, &t.CreatedAt)
	if err != nil {
		return topic.Topic{}, err
	}
	t.PinnedMessageID = pinned.String
	if deadline.Valid {
		d := deadline.Time
		t.Deadline = &d
	}
	if len(stakeholders) > 0 {
		if err := json.Unmarshal(stakeholders, &t.Stakeholders); err != nil {
			return topic.Topic{}, err
		}
	}
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &t.DependencyIDs); err != nil {
			return topic.Topic{}, err
		}
	}
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &t.Extension); err != nil {
			return topic.Topic{}, err
		}
	}
	return t, nil
}

// --- ledger ---

type LedgerStore struct {
	db *sql.DB
}

var _ ledger.Ledger = (*LedgerStore)(nil)

func (s *LedgerStore) Append(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if e.IdempotencyKey == "" {
		return ledger.Entry{}, fmt.Errorf("%w: idempotency key is required", fault.ErrValidation)
	}
	e.ID = ids.New()
	e.Timestamp = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		insert into ledger_entries (id, idempotency_key, timestamp, actor, action, before, after, reason, outcome)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.IdempotencyKey, e.Timestamp, e.Actor, string(e.Action),
		rawOrNull(e.Before), rawOrNull(e.After), e.Reason, string(e.Outcome))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ledger.Entry{}, ledger.ErrDuplicateKey
		}
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *LedgerStore) HasSucceeded(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from ledger_entries where idempotency_key=$1 and outcome='succeeded')
	`, key).Scan(&exists)
	return exists, err
}

func (s *LedgerStore) ByKey(ctx context.Context, key string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, idempotency_key, timestamp, actor, action, before, after, reason, outcome
		from ledger_entries where idempotency_key=$1 order by id
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *LedgerStore) List(ctx context.Context, limit int) ([]ledger.Entry, error) {
	q := psql.Select("id, idempotency_key, timestamp, actor, action, before, after, reason, outcome").
		From("ledger_entries").OrderBy("id desc")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	// Flip to oldest-first to match the Ledger contract.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for rows.Next() {
		var (
			e             ledger.Entry
			action        string
			outcome       string
			before, after []byte
		)
		if err := rows.Scan(&e.ID, &e.IdempotencyKey, &e.Timestamp, &e.Actor, &action,
			&before, &after, &e.Reason, &outcome); err != nil {
			return nil, err
		}
		e.Action = ledger.Action(action)
		e.Outcome = ledger.Outcome(outcome)
		e.Before = json.RawMessage(before)
		e.After = json.RawMessage(after)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- capacity ---

type CapacityStore struct {
	db *sql.DB
}

var _ capacity.Store = (*CapacityStore)(nil)

func (s *CapacityStore) Record(ctx context.Context, m capacity.Metric) error {
	_, err := s.db.ExecContext(ctx, `
		insert into capacity_metrics (category, date, active_count, "limit", utilization)
		values ($1,$2,$3,$4,$5)
		on conflict (category, date) do update set
			active_count = excluded.active_count,
			"limit" = excluded."limit",
			utilization = excluded.utilization
	`, m.Category, m.Date, m.ActiveCount, m.Limit, m.Utilization)
	return err
}

func (s *CapacityStore) Recent(ctx context.Context, category string, n int) ([]capacity.Metric, error) {
	q := psql.Select(`category, date, active_count, "limit", utilization`).
		From("capacity_metrics").
		Where(sq.Eq{"category": category}).
		OrderBy("date desc")
	if n > 0 {
		q = q.Limit(uint64(n))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []capacity.Metric
	for rows.Next() {
		var m capacity.Metric
		if err := rows.Scan(&m.Category, &m.Date, &m.ActiveCount, &m.Limit, &m.Utilization); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Flip to oldest-first to match the Store contract.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// --- helpers ---

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
