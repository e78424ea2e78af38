package postgres

// schemaStatements creates the EAV tables. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS countries (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS variables (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS facts (
		country_id  BIGINT  NOT NULL REFERENCES countries (id),
		year        INTEGER NOT NULL,
		variable_id BIGINT  NOT NULL REFERENCES variables (id),
		value       TEXT    NOT NULL,
		PRIMARY KEY (country_id, year, variable_id)
	)`,
	`CREATE INDEX IF NOT EXISTS facts_year_idx ON facts (year)`,
}
