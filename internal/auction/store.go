package auction

// Store persists auction records. The engine serializes all access, so
// implementations do not need their own locking.
type Store interface {
	// NextID assigns a new auction id: previous id + 1, never reused.
	NextID() (uint64, error)
	// CurrentID returns the most recently assigned id, 0 before any.
	CurrentID() (uint64, error)
	// Get loads a record. The second result is false when no record
	// exists under the id.
	Get(id uint64) (*Record, bool, error)
	// Put stores or replaces a record.
	Put(rec *Record) error
	// Delete clears a record. Deleting an absent id is a no-op.
	Delete(id uint64) error
}

// MemoryStore keeps records in process. Tests and single-node
// deployments without a database use it.
type MemoryStore struct {
	records map[uint64]*Record
	lastID  uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uint64]*Record)}
}

func (s *MemoryStore) NextID() (uint64, error) {
	s.lastID++
	return s.lastID, nil
}

func (s *MemoryStore) CurrentID() (uint64, error) {
	return s.lastID, nil
}

func (s *MemoryStore) Get(id uint64) (*Record, bool, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (s *MemoryStore) Put(rec *Record) error {
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(id uint64) error {
	delete(s.records, id)
	return nil
}
