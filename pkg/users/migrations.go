package users

import (
	"fmt"

	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/storage/postgres"
)

// Migrations returns the schema for users and api_tokens
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(320) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL DEFAULT '',
					system_role VARCHAR(32) NOT NULL CHECK (system_role IN (%s)),
					ga4_role VARCHAR(32) CHECK (ga4_role IS NULL OR ga4_role IN (%s)),
					client_id BIGINT NOT NULL,
					status VARCHAR(16) NOT NULL CHECK (status IN (%s)),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_client_role ON users (client_id, system_role);
			`,
				roles.SQLValues(roles.AllSystemRoles()),
				roles.SQLValues(roles.AllGA4Roles()),
				roles.SQLValues(AllStatuses()),
			),
		},
		{
			Version:     2,
			Description: "Create api_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_tokens (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(32) NOT NULL,
					expires_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_api_tokens_user ON api_tokens (user_id);
			`,
		},
	}
}
