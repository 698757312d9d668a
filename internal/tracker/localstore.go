package tracker

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// WriteStatus is the capability-scoped result of a best-effort local write.
// Callers degrade explicitly on quota or store failure instead of relying
// on swallowed exceptions.
type WriteStatus int

const (
	WriteOk WriteStatus = iota
	WriteQuotaExceeded
	WriteUnavailable
)

// LocalStore is the client-local persistence contract: bounded capacity,
// values expire after the retention window, reads evict lazily.
type LocalStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) WriteStatus
	Delete(key string)
}

type storedRecord struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FileStore keeps records in memory and mirrors them to a single JSON file
// best-effort. MaxBytes caps the serialized size the way a browser quota
// caps local storage; exceeding it reports WriteQuotaExceeded and keeps the
// previous contents.
type FileStore struct {
	mu        sync.Mutex
	path      string
	retention time.Duration
	maxBytes  int
	records   map[string]storedRecord
	now       func() time.Time
}

const (
	defaultRetention = 30 * 24 * time.Hour
	defaultMaxBytes  = 256 << 10
)

func NewFileStore(path string, retention time.Duration, maxBytes int) *FileStore {
	if retention <= 0 {
		retention = defaultRetention
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	s := &FileStore{
		path:      path,
		retention: retention,
		maxBytes:  maxBytes,
		records:   make(map[string]storedRecord),
		now:       time.Now,
	}
	s.load()
	return s
}

// NewMemoryStore is a FileStore without a backing file, for tests and for
// degraded memory-only operation.
func NewMemoryStore(retention time.Duration, maxBytes int) *FileStore {
	return NewFileStore("", retention, maxBytes)
}

func (s *FileStore) load() {
	if s.path == "" {
		return
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var records map[string]storedRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return
	}
	s.records = records
}

func (s *FileStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(rec.UpdatedAt) > s.retention {
		delete(s.records, key)
		s.persistLocked()
		return nil, false
	}
	return rec.Value, true
}

func (s *FileStore) Set(key string, value []byte) WriteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.records[key]
	s.records[key] = storedRecord{Value: value, UpdatedAt: s.now()}

	raw, err := json.Marshal(s.records)
	if err != nil {
		if hadPrev {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return WriteUnavailable
	}
	if len(raw) > s.maxBytes {
		if hadPrev {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return WriteQuotaExceeded
	}
	if s.path != "" {
		if err := os.WriteFile(s.path, raw, 0o600); err != nil {
			return WriteUnavailable
		}
	}
	return WriteOk
}

func (s *FileStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	s.persistLocked()
}

func (s *FileStore) persistLocked() {
	if s.path == "" {
		return
	}
	raw, err := json.Marshal(s.records)
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, raw, 0o600)
}
