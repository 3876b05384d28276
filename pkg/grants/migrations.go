package grants

import (
	"fmt"

	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/storage/postgres"
)

// Migrations returns the schema for the permission_grants table. The CHECK
// lists are generated from the role and status enums.
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create permission_grants table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS permission_grants (
					id BIGSERIAL PRIMARY KEY,
					subject_email VARCHAR(320) NOT NULL,
					requester_id BIGINT NOT NULL REFERENCES users(id),
					client_id BIGINT NOT NULL,
					property_id VARCHAR(64) NOT NULL,
					ga4_role VARCHAR(32) NOT NULL CHECK (ga4_role IN (%s)),
					status VARCHAR(32) NOT NULL CHECK (status IN (%s)),
					reason TEXT NOT NULL DEFAULT '',
					requested_at TIMESTAMPTZ NOT NULL,
					approved_at TIMESTAMPTZ,
					approved_by BIGINT REFERENCES users(id),
					expires_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					rejection_reason TEXT NOT NULL DEFAULT '',
					extension_count INTEGER NOT NULL DEFAULT 0 CHECK (extension_count >= 0),
					external_binding_id VARCHAR(255),
					ga4_registered BOOLEAN NOT NULL DEFAULT FALSE,
					last_notification_sent_at TIMESTAMPTZ,
					last_notification_type VARCHAR(64) NOT NULL DEFAULT '',
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (external_binding_id IS NULL OR status = 'ACTIVE')
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_permission_grants_open
					ON permission_grants (subject_email, property_id)
					WHERE status IN ('PENDING_APPROVAL', 'ACTIVE');
				CREATE INDEX IF NOT EXISTS idx_permission_grants_status_expires ON permission_grants (status, expires_at);
				CREATE INDEX IF NOT EXISTS idx_permission_grants_requester ON permission_grants (requester_id);
				CREATE INDEX IF NOT EXISTS idx_permission_grants_client ON permission_grants (client_id);
			`, roles.SQLValues(roles.AllGA4Roles()), roles.SQLValues(AllStatuses())),
		},
	}
}
