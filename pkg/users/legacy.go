package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// NormalizeLegacyRole splits a value from the old single role column into
// a system role and an optional GA4 role. GA4 role names map to a requester
// holding that GA4 role; system role names carry no GA4 role.
func NormalizeLegacyRole(raw string) (roles.SystemRole, roles.GA4Role, error) {
	value := strings.ToLower(strings.TrimSpace(raw))

	if sr, err := roles.ParseSystemRole(value); err == nil {
		return sr, "", nil
	}
	if gr, err := roles.ParseGA4Role(value); err == nil {
		return roles.SystemRequester, gr, nil
	}

	switch value {
	case "superadmin", "super-admin":
		return roles.SystemSuperAdmin, "", nil
	case "user", "":
		return roles.SystemRequester, "", nil
	}
	return "", "", fmt.Errorf("unrecognized legacy role %q", raw)
}

// ImportResult summarizes a legacy import run
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Importer copies rows from the legacy_users table into Store, normalizing
// the role column on the way.
type Importer struct {
	source *sql.DB
	store  Store
	logger *logrus.Logger
}

// NewImporter creates an importer reading from source
func NewImporter(source *sql.DB, store Store, logger *logrus.Logger) *Importer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Importer{source: source, store: store, logger: logger}
}

type legacyUser struct {
	id       int64
	email    string
	name     string
	role     string
	clientID int64
	active   bool
}

// Run imports every legacy row. Existing emails are skipped; rows with an
// unrecognized role are logged and counted as failed.
func (im *Importer) Run(ctx context.Context) (ImportResult, error) {
	var result ImportResult

	rows, err := im.source.QueryContext(ctx,
		"SELECT id, email, name, role, client_id, is_active FROM legacy_users ORDER BY id")
	if err != nil {
		return result, fmt.Errorf("failed to read legacy users: %w", err)
	}

	var legacy []legacyUser
	for rows.Next() {
		var lu legacyUser
		if err := rows.Scan(&lu.id, &lu.email, &lu.name, &lu.role, &lu.clientID, &lu.active); err != nil {
			rows.Close()
			return result, fmt.Errorf("failed to scan legacy user: %w", err)
		}
		legacy = append(legacy, lu)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("failed to iterate legacy users: %w", err)
	}

	for _, lu := range legacy {
		log := im.logger.WithFields(logrus.Fields{"legacy_id": lu.id, "email": lu.email})

		systemRole, ga4Role, err := NormalizeLegacyRole(lu.role)
		if err != nil {
			log.WithError(err).Warn("Skipping legacy user with unknown role")
			result.Failed++
			continue
		}

		status := StatusActive
		if !lu.active {
			status = StatusInactive
		}

		u := &User{
			Email:      lu.email,
			Name:       lu.name,
			SystemRole: systemRole,
			GA4Role:    ga4Role,
			ClientID:   lu.clientID,
			Status:     status,
		}
		if err := im.store.Create(ctx, u); err != nil {
			if errors.Is(err, ErrEmailTaken) {
				result.Skipped++
				continue
			}
			log.WithError(err).Error("Failed to import legacy user")
			result.Failed++
			continue
		}
		result.Imported++
	}

	im.logger.WithFields(logrus.Fields{
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}).Info("Legacy user import complete")

	return result, nil
}
