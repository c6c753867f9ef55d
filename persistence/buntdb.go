package persistence

import (
	"github.com/gofrs/flock"
	"github.com/tidwall/buntdb"
)

const buntKeyPrefix = "slot:"

type BuntDBStore struct {
	db   *buntdb.DB
	lock *flock.Flock
}

// NewBuntDBStore opens (or creates) the buntdb file fileName; ":memory:" keeps everything in memory and skips the
// lock file.
func NewBuntDBStore(fileName, lockPath string) (*BuntDBStore, error) {
	var lock *flock.Flock
	if fileName != ":memory:" {
		var err error
		lock, err = acquireLock(fileName, lockPath)
		if err != nil {
			return nil, err
		}
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		releaseLock(lock)
		return nil, err
	}
	return &BuntDBStore{db: db, lock: lock}, nil
}

func (p *BuntDBStore) Get(slot string) (string, error) {
	var value string
	err := p.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(buntKeyPrefix + slot)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return "", ErrNotFound
	}
	return value, err
}

func (p *BuntDBStore) Set(slot, value string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(buntKeyPrefix+slot, value, nil)
		return err
	})
}

func (p *BuntDBStore) Delete(slot string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(buntKeyPrefix + slot)
		return err
	})
	if err == buntdb.ErrNotFound {
		return nil
	}
	return err
}

func (p *BuntDBStore) Close() error {
	defer releaseLock(p.lock)
	return p.db.Close()
}
