package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/depwatch/internal/infra/storage"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("not all sqlmock expectations were met: %v", err)
		}
		db.Close()
	})

	s := NewStore(sqlx.NewDb(db, "pgx"))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestStore_Put(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		expires any
	}{
		{"with ttl", time.Minute, fixedNow.Add(time.Minute)},
		{"without ttl", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kv_store")).
				WithArgs("snapshot", []byte("v"), tt.expires, fixedNow).
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := s.Put(context.Background(), "snapshot", []byte("v"), tt.ttl); err != nil {
				t.Fatalf("Put: %v", err)
			}
		})
	}
}

func TestStore_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_store")).
			WithArgs("snapshot", fixedNow).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"ok":true}`)))

		got, err := s.Get(context.Background(), "snapshot")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != `{"ok":true}` {
			t.Errorf("Get = %s", got)
		}
	})

	t.Run("missing or expired", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_store")).
			WithArgs("snapshot", fixedNow).
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		if _, err := s.Get(context.Background(), "snapshot"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("db error", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_store")).
			WillReturnError(errors.New("connection reset"))

		_, err := s.Get(context.Background(), "snapshot")
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected wrapped db error, got %v", err)
		}
	})
}

func TestStore_DeleteAndPurge(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kv_store WHERE key = $1")).
		WithArgs("snapshot").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kv_store WHERE expires_at IS NOT NULL")).
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := s.Delete(context.Background(), "snapshot"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := s.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 3 {
		t.Errorf("purged = %d, want 3", n)
	}
}
