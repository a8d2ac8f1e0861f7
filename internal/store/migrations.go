package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. Records are kept
// whole in a JSON column; the other columns exist for lookups and listing.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create invocations",
		SQL: `
			CREATE TABLE invocations (
				id          TEXT PRIMARY KEY,
				agent       TEXT NOT NULL,
				status      TEXT NOT NULL,
				parallel_id TEXT NOT NULL DEFAULT '',
				started_at  TEXT NOT NULL,
				record      TEXT NOT NULL
			);

			CREATE INDEX idx_invocations_agent ON invocations (agent);
			CREATE INDEX idx_invocations_parallel ON invocations (parallel_id);
		`,
	},
	{
		Version: 2,
		Name:    "create handoffs",
		SQL: `
			CREATE TABLE handoffs (
				seq         INTEGER PRIMARY KEY AUTOINCREMENT,
				id          TEXT NOT NULL UNIQUE,
				from_agent  TEXT NOT NULL,
				to_agent    TEXT NOT NULL,
				session_id  TEXT NOT NULL DEFAULT '',
				parallel_id TEXT NOT NULL DEFAULT '',
				timestamp   TEXT NOT NULL,
				record      TEXT NOT NULL
			);

			CREATE INDEX idx_handoffs_session ON handoffs (session_id, seq);
			CREATE INDEX idx_handoffs_parallel ON handoffs (parallel_id, seq);
		`,
	},
	{
		Version: 3,
		Name:    "create parallel executions",
		SQL: `
			CREATE TABLE parallel_executions (
				id          TEXT PRIMARY KEY,
				strategy    TEXT NOT NULL,
				status      TEXT NOT NULL,
				started_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
				record      TEXT NOT NULL
			);

			CREATE INDEX idx_parallel_status ON parallel_executions (status);
		`,
	},
}
