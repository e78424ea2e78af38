package sqlite

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:eav.db?_pragma=busy_timeout(5000)"
	//   "eav.db" (interpreted by the driver)
	DSN string

	// MaxConns bounds open connections. SQLite serializes writers, so the
	// default is a single connection shared by readers and the flush path.
	MaxConns int
}
