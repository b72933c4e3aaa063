package schema

import "sync"

type keyScope struct {
	db    string
	table string
}

// KeyAllocator hands out auto-increment primary keys. Keys are scoped to a
// (database, table) pair, start at 1, and are never reused. One allocator
// serves a whole ETL run and is safe for concurrent use.
type KeyAllocator struct {
	mu   sync.Mutex
	db   string
	last map[keyScope]int64
}

// NewKeyAllocator returns an allocator whose Next calls are scoped to db,
// typically the target's connection identity.
func NewKeyAllocator(db string) *KeyAllocator {
	return &KeyAllocator{db: db, last: make(map[keyScope]int64)}
}

// Next returns the next key for table.
func (k *KeyAllocator) Next(table string) int64 {
	return k.NextFor(k.db, table)
}

// NextFor returns the next key for table in database db.
func (k *KeyAllocator) NextFor(db, table string) int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.last == nil {
		k.last = make(map[keyScope]int64)
	}
	scope := keyScope{db: db, table: table}
	k.last[scope]++
	return k.last[scope]
}

// Last returns the most recently allocated key for table, or 0.
func (k *KeyAllocator) Last(table string) int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last[keyScope{db: k.db, table: table}]
}

// Reset forgets every allocated key.
func (k *KeyAllocator) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.last = make(map[keyScope]int64)
}
