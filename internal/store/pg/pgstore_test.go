package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"topiary.org/internal/capacity"
	"topiary.org/internal/fault"
	"topiary.org/internal/ledger"
	"topiary.org/internal/topic"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestLedgerAppendMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into ledger_entries").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	_, err := store.Ledger().Append(context.Background(), ledger.Entry{
		IdempotencyKey: "k1",
		Action:         ledger.ActionRename,
		Outcome:        ledger.OutcomeSucceeded,
	})
	if !errors.Is(err, ledger.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerAppendAssignsIDAndTimestamp(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e, err := store.Ledger().Append(context.Background(), ledger.Entry{
		IdempotencyKey: "k1",
		Action:         ledger.ActionRename,
		Outcome:        ledger.OutcomeFailed,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("entry not stamped: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerAppendRequiresKey(t *testing.T) {
	store, _ := newMock(t)
	_, err := store.Ledger().Append(context.Background(), ledger.Entry{})
	if !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestLedgerHasSucceeded(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select exists").
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Ledger().HasSucceeded(context.Background(), "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("HasSucceeded = false")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTopicGetNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select (.+) from topics where id=").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Topics().Get(context.Background(), "ghost")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestTopicListFiltersByCategory(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "category", "raw_title", "canonical_name", "compliant", "pinned_message_id",
		"stakeholders", "deadline", "dependency_ids", "replies", "views", "priority_score",
		"extension", "last_audited_at", "last_polished_at", "created_at",
	}).AddRow("t1", "sec", "Security Discussion", "🛡️ sec-security-discussion", false, nil,
		[]byte(`["u1"]`), nil, []byte(`[]`), 3, 10, 0.0,
		[]byte(`{"schema_version":1}`), now, now, now)

	mock.ExpectQuery("SELECT (.+) FROM topics WHERE category = (.+) ORDER BY id").
		WithArgs("sec").
		WillReturnRows(rows)

	topics, err := store.Topics().List(context.Background(), "sec")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(topics) != 1 || topics[0].ID != "t1" {
		t.Fatalf("topics = %+v", topics)
	}
	if topics[0].Extension.SchemaVersion != 1 || len(topics[0].Stakeholders) != 1 {
		t.Fatalf("decoded topic = %+v", topics[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTopicPutBatchIsTransactional(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into topics").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into topics").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Topics().PutBatch(context.Background(), []topic.Topic{
		{ID: "t1", Category: "sec"},
		{ID: "t2", Category: "sec"},
	})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTopicPutBatchRejectsMissingID(t *testing.T) {
	store, _ := newMock(t)
	err := store.Topics().PutBatch(context.Background(), []topic.Topic{{Category: "sec"}})
	if !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestCapacityRecordUpserts(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into capacity_metrics").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := capacity.NewMetric("sec", time.Now(), 4, 10)
	if err := store.Capacity().Record(context.Background(), m); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCapacityRecentReturnsOldestFirst(t *testing.T) {
	store, mock := newMock(t)
	d1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"category", "date", "active_count", "limit", "utilization"}).
		AddRow("sec", d2, 5, 10, 0.5).
		AddRow("sec", d1, 4, 10, 0.4)

	mock.ExpectQuery("SELECT (.+) FROM capacity_metrics WHERE category = (.+) ORDER BY date desc").
		WithArgs("sec").
		WillReturnRows(rows)

	samples, err := store.Capacity().Recent(context.Background(), "sec", 30)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(samples) != 2 || !samples[0].Date.Equal(d1) || !samples[1].Date.Equal(d2) {
		t.Fatalf("samples = %+v", samples)
	}
}
