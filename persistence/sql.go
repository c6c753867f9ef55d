package persistence

import (
	"database/sql"
	"sync"
)

// SQLStore keeps the slots in a single table; the statements work for both sqlite and postgres.
type SQLStore struct {
	db      *sql.DB
	release func()
	sync.RWMutex
}

func setupSQLStore(db *sql.DB) error {
	query := `CREATE TABLE IF NOT EXISTS cache_slots (
name TEXT PRIMARY KEY,
value TEXT NOT NULL
);`
	_, err := db.Exec(query)
	return err
}

func (p *SQLStore) Get(slot string) (string, error) {
	p.RLock()
	defer p.RUnlock()
	var value string
	query := `SELECT value FROM cache_slots WHERE name=$1;`
	err := p.db.QueryRow(query, slot).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (p *SQLStore) Set(slot, value string) error {
	p.Lock()
	defer p.Unlock()
	query := `INSERT INTO cache_slots (name,value) VALUES ($1,$2) ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value;`
	_, err := p.db.Exec(query, slot, value)
	return err
}

func (p *SQLStore) Delete(slot string) error {
	p.Lock()
	defer p.Unlock()
	query := `DELETE FROM cache_slots WHERE name=$1;`
	_, err := p.db.Exec(query, slot)
	return err
}

func (p *SQLStore) Close() error {
	if p.release != nil {
		defer p.release()
	}
	return p.db.Close()
}
