package persistence

import (
	"database/sql"

	_ "github.com/lib/pq"
)

func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	err = setupSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}
