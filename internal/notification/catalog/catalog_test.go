package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_Lookup(t *testing.T) {
	tests := []struct {
		name      string
		kind      models.EntityKind
		query     string
		rows      *sqlmock.Rows
		err       error
		wantTitle string
		wantFound bool
		wantCode  apperrors.ErrorCode
	}{
		{
			name:      "report",
			kind:      models.KindReport,
			query:     "SELECT title FROM reports WHERE id = \\$1",
			rows:      sqlmock.NewRows([]string{"title"}).AddRow("Pothole on Ring Road"),
			wantTitle: "Pothole on Ring Road",
			wantFound: true,
		},
		{
			name:      "comment snippet",
			kind:      models.KindComment,
			query:     "SELECT LEFT\\(content, 80\\) FROM comments WHERE id = \\$1",
			rows:      sqlmock.NewRows([]string{"left"}).AddRow("Agreed, this needs fixing"),
			wantTitle: "Agreed, this needs fixing",
			wantFound: true,
		},
		{
			name:      "deleted suggestion",
			kind:      models.KindSuggestion,
			query:     "SELECT title FROM suggestions WHERE id = \\$1",
			err:       sql.ErrNoRows,
			wantFound: false,
		},
		{
			name:     "database down",
			kind:     models.KindReport,
			query:    "SELECT title FROM reports",
			err:      errors.New("timeout"),
			wantCode: apperrors.ErrCodeDependencyFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			exp := mock.ExpectQuery(tt.query).WithArgs("id-1")
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnRows(tt.rows)
			}

			title, found, err := NewPostgres(db).Lookup(context.Background(), tt.kind, "id-1")
			if tt.wantCode != "" {
				assert.True(t, apperrors.IsCode(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantTitle, title)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_Lookup_UnknownKind(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, _, err = NewPostgres(db).Lookup(context.Background(), "photo", "p-1")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestMemory_PutRemove(t *testing.T) {
	m := NewMemory()
	m.Put(models.KindSuggestion, "s-1", "More bike lanes")

	title, found, err := m.Lookup(context.Background(), models.KindSuggestion, "s-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "More bike lanes", title)

	_, found, _ = m.Lookup(context.Background(), models.KindReport, "s-1")
	assert.False(t, found)

	m.Remove(models.KindSuggestion, "s-1")
	_, found, err = m.Lookup(context.Background(), models.KindSuggestion, "s-1")
	require.NoError(t, err)
	assert.False(t, found)
}
