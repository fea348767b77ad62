package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/milesc-bot/gym-scraper/internal/browserpool"
)

const cookieLockSuffix = ".lock"

// CookieStoreEntry is the on-disk shape: { timestamp: epoch-ms, cookies: [...] }.
type CookieStoreEntry struct {
	Timestamp int64                `json:"timestamp"`
	Cookies   []browserpool.Cookie `json:"cookies"`
}

// CookieStore guards a single JSON cookie file with a sibling lock file, so
// concurrent orchestrator runs sharing a process don't interleave writes.
type CookieStore struct {
	path string
	lock *flock.Flock
}

// NewCookieStore builds a CookieStore at path.
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path, lock: flock.New(path + cookieLockSuffix)}
}

// Load reads the cookie store if it exists and is no older than ttl. A
// missing file or stale entry returns (nil, false, nil).
func (s *CookieStore) Load(ttl time.Duration) (*CookieStoreEntry, bool, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, false, fmt.Errorf("lock cookie store: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cookie store: %w", err)
	}

	var entry CookieStoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("parse cookie store: %w", err)
	}
	age := time.Since(time.UnixMilli(entry.Timestamp))
	if age > ttl {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Save atomically writes cookies, stamped with the current time, via
// write-then-rename so a concurrent reader never observes a partial file.
func (s *CookieStore) Save(cookies []browserpool.Cookie, now time.Time) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock cookie store: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	entry := CookieStoreEntry{Timestamp: now.UnixMilli(), Cookies: cookies}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cookie store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp cookie file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename cookie file: %w", err)
	}
	return nil
}
