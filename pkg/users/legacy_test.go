package users

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

func TestNormalizeLegacyRole(t *testing.T) {
	tests := []struct {
		raw        string
		wantSystem roles.SystemRole
		wantGA4    roles.GA4Role
		wantErr    bool
	}{
		{"requester", roles.SystemRequester, "", false},
		{"ADMIN", roles.SystemAdmin, "", false},
		{"super_admin", roles.SystemSuperAdmin, "", false},
		{"superadmin", roles.SystemSuperAdmin, "", false},
		{"viewer", roles.SystemRequester, roles.GA4Viewer, false},
		{"Analyst", roles.SystemRequester, roles.GA4Analyst, false},
		{"editor", roles.SystemRequester, roles.GA4Editor, false},
		{" administrator ", roles.SystemRequester, roles.GA4Administrator, false},
		{"", roles.SystemRequester, "", false},
		{"owner", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sr, gr, err := NormalizeLegacyRole(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSystem, sr)
			assert.Equal(t, tt.wantGA4, gr)
		})
	}
}

func TestImporter_Run(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &User{
		Email: "existing@example.com", SystemRole: roles.SystemRequester, ClientID: 1, Status: StatusActive,
	}))

	mock.ExpectQuery("SELECT id, email, name, role, client_id, is_active FROM legacy_users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "client_id", "is_active"}).
			AddRow(1, "ana@example.com", "Ana", "editor", 1, true).
			AddRow(2, "adm@example.com", "Adm", "admin", 1, true).
			AddRow(3, "existing@example.com", "Old", "viewer", 1, true).
			AddRow(4, "bad@example.com", "Bad", "owner", 1, true).
			AddRow(5, "gone@example.com", "Gone", "viewer", 2, false))

	logger, hook := test.NewNullLogger()
	result, err := NewImporter(db, store, logger).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ImportResult{Imported: 3, Skipped: 1, Failed: 1}, result)

	ana, err := store.GetByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, roles.SystemRequester, ana.SystemRole)
	assert.Equal(t, roles.GA4Editor, ana.GA4Role)

	adm, err := store.GetByEmail(context.Background(), "adm@example.com")
	require.NoError(t, err)
	assert.Equal(t, roles.SystemAdmin, adm.SystemRole)
	assert.Empty(t, adm.GA4Role)

	gone, err := store.GetByEmail(context.Background(), "gone@example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, gone.Status)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["email"] == "bad@example.com" {
			warned = true
		}
	}
	assert.True(t, warned)
	assert.NoError(t, mock.ExpectationsWereMet())
}
