package sqlitestore

const schema = `
CREATE TABLE IF NOT EXISTS prompts (
	prompt_id        TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	domain           TEXT NOT NULL,
	agent_type       TEXT NOT NULL,
	environment      TEXT NOT NULL,
	current_version  INTEGER NOT NULL,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	model_parameters TEXT NOT NULL DEFAULT '{}',
	metadata         TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_prompts_domain_env ON prompts(domain, environment);

CREATE TABLE IF NOT EXISTS prompt_versions (
	prompt_id           TEXT NOT NULL REFERENCES prompts(prompt_id),
	version             INTEGER NOT NULL,
	system_instructions TEXT NOT NULL,
	template            TEXT NOT NULL,
	created_at          TEXT NOT NULL,
	created_by          TEXT NOT NULL,
	change_note         TEXT NOT NULL,
	PRIMARY KEY (prompt_id, version)
);

CREATE TABLE IF NOT EXISTS migrations (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	migration_id     TEXT NOT NULL UNIQUE,
	source_prompt_id TEXT NOT NULL,
	target_prompt_id TEXT NOT NULL,
	source_env       TEXT NOT NULL,
	target_env       TEXT NOT NULL,
	source_version   INTEGER NOT NULL,
	target_version   INTEGER,
	operator         TEXT NOT NULL,
	timestamp        TEXT NOT NULL,
	dry_run          INTEGER NOT NULL,
	status           TEXT NOT NULL,
	action           TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_migrations_source ON migrations(source_prompt_id);
CREATE INDEX IF NOT EXISTS idx_migrations_target ON migrations(target_prompt_id);
`
