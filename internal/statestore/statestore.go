package statestore

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Keys persisted by the client. These mirror the browser client's
// localStorage keys so the cache layout stays recognizable across ports.
const (
	KeySessionID       = "safetrack_sessionId"
	KeyUserID          = "safetrack_userId"
	KeyIsRegistered    = "safetrack_isRegistered"
	KeyIsTracking      = "safetrack_isTracking"
	KeyIsSimulating    = "safetrack_isSimulating"
	KeyCurrentLocation = "safetrack_currentLocation"
	KeySharedUsers     = "safetrack_sharedUsers"
	KeyReceivedShares  = "safetrack_receivedShares"
	KeyChatMessages    = "safetrack_chatMessages"
	KeyFriends         = "safetrack_friends"
)

// Store is a file-backed string key/value cache. It is a paint-before-
// reconcile optimization only: readers must treat its contents as stale
// until an authoritative restore arrives. A corrupt or unreadable file is
// treated as empty rather than surfaced as an error.
type Store struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
}

// Open loads the store at path, creating parent directories as needed
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		values: make(map[string]string),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Missing file is the normal first-run case
		return s, nil
	}

	if err := json.Unmarshal(data, &s.values); err != nil {
		// Corrupt cache fails open to "no state" instead of crashing
		log.Printf("⚠️  State file %s is corrupt, starting empty: %v", path, err)
		s.values = make(map[string]string)
	}

	return s, nil
}

// Get returns the value for key and whether it was present
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetBool reads a "true"/"false" flag; absent or malformed reads as false
func (s *Store) GetBool(key string) bool {
	v, ok := s.Get(key)
	return ok && v == "true"
}

// GetJSON unmarshals the value for key into out. Absent or unparsable
// entries leave out untouched and return false.
func (s *Store) GetJSON(key string, out interface{}) bool {
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return false
	}
	return true
}

// Set stores value under key and flushes to disk
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

// SetBool stores a flag as "true"/"false"
func (s *Store) SetBool(key string, value bool) error {
	if value {
		return s.Set(key, "true")
	}
	return s.Set(key, "false")
}

// SetJSON marshals v and stores it under key
func (s *Store) SetJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(key, string(data))
}

// Delete removes key; removing an absent key is a no-op
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flushLocked()
}

// Clear removes every safetrack_* key, used on logout and invalid sessions
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash mid-write cannot corrupt the cache
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
