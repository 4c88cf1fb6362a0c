package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS token_states (
	key        TEXT PRIMARY KEY,
	expires_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS check_results (
	id         TEXT PRIMARY KEY,
	account    TEXT NOT NULL,
	protocol   TEXT NOT NULL,
	ok         INTEGER NOT NULL DEFAULT 0,
	message    TEXT NOT NULL DEFAULT '',
	checked_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_check_results_account ON check_results(account, protocol, checked_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
