package persistence

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/tcriess/walkingbuddy/globals"
)

// acquireLock takes the exclusive lock file guarding a file based cache, so that two clients never write the same
// cache concurrently. lockPath defaults to fileName + ".lock".
func acquireLock(fileName, lockPath string) (*flock.Flock, error) {
	if lockPath == "" {
		lockPath = fileName + ".lock"
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("could not lock %s: %w", lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", lockPath, ErrLocked)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		globals.AppLogger.Error("could not release cache lock", "path", lock.Path(), "error", err)
	}
}
