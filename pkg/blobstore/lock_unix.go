// Copyright (c) 2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package blobstore

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// ErrLocked is returned when a live process already holds the lock.
var ErrLocked = errors.New("blobstore: already locked")

// ErrLockAcquirement is returned when writing the lockfile itself
// fails (as opposed to losing the race to another process).
var ErrLockAcquirement = errors.New("blobstore: unable to acquire lock")

// AcquireLockFile acquires the lockfile at path, stealing it from any
// stale holder whose pid is no longer alive (syscall.Kill(pid, 0)).
func AcquireLockFile(path string) error {
	dir, fn := filepath.Split(path)
	lockfn := filepath.Join(dir, fn)

	lockfile, err := os.OpenFile(lockfn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		content, err := os.ReadFile(lockfn)
		if err != nil {
			return err
		}

		pid, err := strconv.Atoi(string(content))
		if err == nil {
			if syscall.Kill(pid, 0) == nil {
				return ErrLocked
			}
		}

		tmp, err := os.CreateTemp(dir, "lock")
		if err != nil {
			return err
		}

		_, err = tmp.WriteString(strconv.Itoa(os.Getpid()))
		if err != nil {
			tmp.Close()
			return ErrLockAcquirement
		}

		curfn := tmp.Name()

		if err := tmp.Close(); err != nil {
			return err
		}

		if err := os.Rename(curfn, lockfn); err != nil {
			os.Remove(curfn)
			return ErrLockAcquirement
		}
	} else if err != nil {
		return err
	} else {
		_, err = lockfile.WriteString(strconv.Itoa(os.Getpid()))
		lockfile.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

// ReleaseLockFile releases the lockfile at path.
func ReleaseLockFile(path string) error {
	return os.Remove(path)
}
