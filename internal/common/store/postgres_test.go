package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db, "postgres://test"), mock
}

func TestPostgres_GetNotFound(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT doc FROM records").
		WithArgs("emailQueue", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))

	var out map[string]interface{}
	err := st.Get(context.Background(), "emailQueue", "missing", &out)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Get(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT doc FROM records").
		WithArgs("emailQueue", "e1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow([]byte(`{"status":"pending"}`)))

	var out map[string]interface{}
	require.NoError(t, st.Get(context.Background(), "emailQueue", "e1", &out))
	assert.Equal(t, "pending", out["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PatchNotFound(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE records SET doc").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Patch(context.Background(), "emailQueue", "missing", map[string]interface{}{"status": "pending"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PatchRemovesOnlyPatchNullKeys(t *testing.T) {
	st, mock := newMockPostgres(t)

	// The stored doc may carry legitimate null values (inside
	// templateData for instance); only the keys the patch itself sets
	// to null may be dropped, so no jsonb_strip_nulls over the whole doc.
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE records SET doc = (doc || $3::jsonb) - ARRAY(SELECT key FROM jsonb_each($3::jsonb) WHERE value = 'null'::jsonb)::text[]`)).
		WithArgs("emailQueue", "e1", `{"lastError":null,"status":"sent"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.Patch(context.Background(), "emailQueue", "e1", map[string]interface{}{
		"status":    "sent",
		"lastError": nil,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateIf(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		st, mock := newMockPostgres(t)

		mock.ExpectExec("UPDATE records SET doc").
			WithArgs("emailQueue", "e1", `{"status":"processing"}`, "status", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := st.UpdateIf(context.Background(), "emailQueue", "e1",
			"status", "pending", map[string]interface{}{"status": "processing"})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guard does not match", func(t *testing.T) {
		st, mock := newMockPostgres(t)

		mock.ExpectExec("UPDATE records SET doc").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1 FROM records").
			WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		applied, err := st.UpdateIf(context.Background(), "emailQueue", "e1",
			"status", "pending", map[string]interface{}{"status": "processing"})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("record missing", func(t *testing.T) {
		st, mock := newMockPostgres(t)

		mock.ExpectExec("UPDATE records SET doc").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1 FROM records").
			WillReturnRows(sqlmock.NewRows([]string{"one"}))

		_, err := st.UpdateIf(context.Background(), "emailQueue", "missing",
			"status", "pending", map[string]interface{}{"status": "processing"})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	// A missing boolean guard field must compare equal to false, so the
	// first delivery of a fresh notification can claim it.
	t.Run("missing bool guard", func(t *testing.T) {
		st, mock := newMockPostgres(t)

		mock.ExpectExec("UPDATE records SET doc").
			WithArgs("notifications", "n1", `{"sent":true}`, "sent", "false").
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := st.UpdateIf(context.Background(), "notifications", "n1",
			"sent", false, map[string]interface{}{"sent": true})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_CreateNotifiesInSameTransaction(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := st.Create(context.Background(), "emailQueue", "e1", map[string]interface{}{
		"to": "parent@example.com",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BatchWriteRollsBackOnFailure(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE records SET doc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM records").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := st.BatchWrite(context.Background(), []WriteOp{
		{Kind: WritePatch, Collection: "emailQueue", ID: "e1", Patch: map[string]interface{}{"status": "pending"}},
		{Kind: WriteDelete, Collection: "notifications", ID: "n1"},
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildQuerySQL(t *testing.T) {
	cutoff := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filters  []Filter
		limit    int
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "no filters",
			wantSQL:  `SELECT id, doc FROM records WHERE collection = $1 ORDER BY id`,
			wantArgs: []interface{}{"emailQueue"},
		},
		{
			name: "sweep selection",
			filters: []Filter{
				Where("status", OpEqual, "failed"),
				Where("lastErrorAt", OpLess, cutoff),
				Where("retryCount", OpLess, 3),
			},
			limit: 10,
			wantSQL: `SELECT id, doc FROM records WHERE collection = $1` +
				` AND doc->>'status' = $2` +
				` AND doc->>'lastErrorAt' < $3` +
				` AND (doc->>'retryCount')::numeric < $4` +
				` ORDER BY id LIMIT 10`,
			wantArgs: []interface{}{"emailQueue", "failed", "2026-08-30T00:00:00Z", float64(3)},
		},
		{
			name: "bool equality",
			filters: []Filter{
				Where("notificationSent", OpEqual, false),
			},
			wantSQL: `SELECT id, doc FROM records WHERE collection = $1` +
				` AND COALESCE((doc->>'notificationSent')::boolean, false) = $2` +
				` ORDER BY id`,
			wantArgs: []interface{}{"emailQueue", false},
		},
		{
			name: "array contains",
			filters: []Filter{
				Where("childIds", OpArrayContains, "child-1"),
			},
			wantSQL: `SELECT id, doc FROM records WHERE collection = $1` +
				` AND doc->'childIds' ? $2` +
				` ORDER BY id`,
			wantArgs: []interface{}{"emailQueue", "child-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildQuerySQL("emailQueue", tt.filters, tt.limit)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
