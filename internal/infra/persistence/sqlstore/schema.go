package sqlstore

// schema is portable between SQLite and PostgreSQL. Timestamps are stored as
// Unix microseconds and JSON-valued fields as TEXT.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		project_type  TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		target_device TEXT NOT NULL DEFAULT '',
		created_at    BIGINT NOT NULL,
		updated_at    BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_name ON projects (name, created_at)`,
	`CREATE TABLE IF NOT EXISTS iteration_counters (
		project_id  TEXT PRIMARY KEY REFERENCES projects (id) ON DELETE CASCADE,
		last_number INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS design_iterations (
		id                   TEXT PRIMARY KEY,
		project_id           TEXT NOT NULL REFERENCES projects (id),
		iteration_number     INTEGER NOT NULL,
		approach_description TEXT NOT NULL DEFAULT '',
		code_snapshot        TEXT NOT NULL DEFAULT '',
		code_hash            TEXT NOT NULL DEFAULT '',
		pragmas_used         TEXT NOT NULL DEFAULT '[]',
		prompt_used          TEXT NOT NULL DEFAULT '',
		reasoning            TEXT NOT NULL DEFAULT '',
		user_reference_code  TEXT NOT NULL DEFAULT '',
		user_specification   TEXT NOT NULL DEFAULT '',
		reference_metadata   TEXT,
		created_at           BIGINT NOT NULL,
		UNIQUE (project_id, iteration_number)
	)`,
	`CREATE TABLE IF NOT EXISTS synthesis_results (
		id              TEXT PRIMARY KEY,
		iteration_id    TEXT NOT NULL UNIQUE REFERENCES design_iterations (id),
		ii_achieved     INTEGER NOT NULL,
		ii_target       INTEGER NOT NULL,
		latency_cycles  INTEGER,
		timing_met      BOOLEAN,
		resource_usage  TEXT NOT NULL DEFAULT '{}',
		clock_period_ns DOUBLE PRECISION,
		created_at      BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS hls_rules (
		id          TEXT PRIMARY KEY,
		rule_code   TEXT UNIQUE,
		rule_text   TEXT NOT NULL,
		text_key    TEXT NOT NULL,
		rule_type   TEXT NOT NULL,
		category    TEXT NOT NULL DEFAULT '',
		priority    INTEGER NOT NULL DEFAULT 0,
		source      TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hls_rules_text_key ON hls_rules (text_key)`,
	`CREATE TABLE IF NOT EXISTS rules_effectiveness (
		id              TEXT PRIMARY KEY,
		rule_id         TEXT NOT NULL REFERENCES hls_rules (id),
		project_type    TEXT NOT NULL,
		times_applied   INTEGER NOT NULL,
		success_count   INTEGER NOT NULL,
		avg_improvement DOUBLE PRECISION NOT NULL,
		last_applied_at BIGINT NOT NULL,
		UNIQUE (rule_id, project_type),
		CHECK (success_count <= times_applied)
	)`,
}

// Schema returns the DDL statements applied by Migrate.
func Schema() []string {
	return append([]string(nil), schema...)
}

// timeColumn maps each kind to the column RecordsSince filters on.
var timeColumn = map[string]string{
	"projects":            "created_at",
	"design_iterations":   "created_at",
	"synthesis_results":   "created_at",
	"hls_rules":           "created_at",
	"rules_effectiveness": "last_applied_at",
}
