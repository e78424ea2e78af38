package sqlite

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS countries (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS variables (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS facts (
		country_id  INTEGER NOT NULL REFERENCES countries (id),
		year        INTEGER NOT NULL,
		variable_id INTEGER NOT NULL REFERENCES variables (id),
		value       TEXT    NOT NULL,
		PRIMARY KEY (country_id, year, variable_id)
	)`,
	`CREATE INDEX IF NOT EXISTS facts_year_idx ON facts (year)`,
}
