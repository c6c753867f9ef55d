package persistence

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteStore opens the sqlite database dsn. File databases are guarded by a lock file.
func NewSQLiteStore(dsn, lockPath string) (*SQLStore, error) {
	release := func() {}
	if !strings.Contains(dsn, ":memory:") {
		lock, err := acquireLock(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"), lockPath)
		if err != nil {
			return nil, err
		}
		release = func() { releaseLock(lock) }
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		release()
		return nil, err
	}
	// a second connection would see a different in-memory database
	db.SetMaxOpenConns(1)
	err = setupSQLStore(db)
	if err != nil {
		db.Close()
		release()
		return nil, err
	}
	return &SQLStore{db: db, release: release}, nil
}
