package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func TestViolationRepositoryOrdinalOf(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewViolationRepository(db)

	occurred := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM violation_records`).
		WithArgs("st-1", "vt-late", occurred, "rec-4").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	ordinal, err := repo.OrdinalOf(context.Background(), &models.ViolationRecord{
		ID: "rec-4", StudentID: "st-1", ViolationTypeID: "vt-late", OccurredAt: occurred,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, ordinal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolationRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewViolationRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "violation_type_id", "recorded_by",
		"occurred_at", "note", "evidence_path", "created_at", "updated_at", "deleted_at"}).
		AddRow("rec-1", "st-1", "vt-late", "u-1", now, nil, nil, now, now, nil)
	mock.ExpectQuery("SELECT (.+) FROM violation_records WHERE id").
		WithArgs("rec-1").
		WillReturnRows(rows)

	rec, err := repo.FindByID(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "st-1", rec.StudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolationRepositorySoftDeleteMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewViolationRepository(db)

	mock.ExpectExec("UPDATE violation_records SET deleted_at").
		WithArgs("rec-missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SoftDelete(context.Background(), "rec-missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolationRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewViolationRepository(db)

	mock.ExpectExec("INSERT INTO violation_records").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &models.ViolationRecord{StudentID: "st-1", ViolationTypeID: "vt-late", RecordedBy: "u-1",
		OccurredAt: time.Now().UTC()}
	require.NoError(t, repo.Create(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
