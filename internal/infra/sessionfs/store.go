// Package sessionfs manages the on-disk session directory of the messaging
// capability: crash-recovery lock purge, full wipe and presence checks. The
// directory contents are otherwise opaque.
package sessionfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

var (
	lockDirPattern  = regexp.MustCompile(`(?i)^Singleton`)
	lockFilePattern = regexp.MustCompile(`(?i)^(Singleton|LOCK|LOCKFILE|DevToolsActivePort)`)
)

type Store struct {
	dir         string
	userDataDir string
	clientID    string
}

func New(dir, userDataDir, clientID string) *Store {
	return &Store{dir: dir, userDataDir: userDataDir, clientID: clientID}
}

func (s *Store) Dir() string         { return s.dir }
func (s *Store) UserDataDir() string { return s.userDataDir }

// Ensure creates the session and browser profile directories.
func (s *Store) Ensure() error {
	for _, d := range []string{s.dir, s.userDataDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// PurgeLocks removes singleton-lock artifacts a crashed browser left behind,
// returning the removed paths. Directories named Singleton* go entirely;
// everything else is descended into.
func (s *Store) PurgeLocks() ([]string, error) {
	var removed []string
	var errs []error
	for _, root := range []string{s.dir, s.userDataDir} {
		r, err := purge(root)
		removed = append(removed, r...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

func purge(root string) ([]string, error) {
	var removed []string
	var errs []error
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			errs = append(errs, err)
			return nil
		}
		if path == root {
			return nil
		}
		name := d.Name()
		switch {
		case d.IsDir() && lockDirPattern.MatchString(name):
			if err := os.RemoveAll(path); err != nil {
				errs = append(errs, err)
			} else {
				removed = append(removed, path)
			}
			return fs.SkipDir
		case !d.IsDir() && lockFilePattern.MatchString(name):
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			} else {
				removed = append(removed, path)
			}
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

// Clear wipes the persisted session and the browser profile.
func (s *Store) Clear() error {
	var errs []error
	for _, d := range []string{s.dir, s.userDataDir} {
		if err := os.RemoveAll(d); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

// HasSession reports whether an authenticated session was persisted.
func (s *Store) HasSession() bool {
	for _, name := range []string{"session-" + s.clientID, "session"} {
		entries, err := os.ReadDir(filepath.Join(s.dir, name))
		if err == nil && len(entries) > 0 {
			return true
		}
	}
	return false
}
