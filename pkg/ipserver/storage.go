package ipserver

import "sync"

// Storage persists the accessory server state that must survive restarts.
//
// All methods must be safe for concurrent use.
type Storage interface {
	// LoadStateNumber returns the discovery state number, or 0 if none was
	// saved.
	LoadStateNumber() (uint16, error)
	SaveStateNumber(n uint16) error

	// LoadConfigNumber returns the configuration number and the hash of the
	// accessory database it belongs to, or zeros if none was saved.
	LoadConfigNumber() (number uint32, dbHash [32]byte, err error)
	SaveConfigNumber(number uint32, dbHash [32]byte) error
}

// MemoryStorage is an in-memory Storage implementation.
// Useful for testing and development. Data is lost when the process exits.
type MemoryStorage struct {
	mu           sync.RWMutex
	stateNumber  uint16
	configNumber uint32
	dbHash       [32]byte
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// LoadStateNumber implements Storage.
func (m *MemoryStorage) LoadStateNumber() (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateNumber, nil
}

// SaveStateNumber implements Storage.
func (m *MemoryStorage) SaveStateNumber(n uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateNumber = n
	return nil
}

// LoadConfigNumber implements Storage.
func (m *MemoryStorage) LoadConfigNumber() (uint32, [32]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configNumber, m.dbHash, nil
}

// SaveConfigNumber implements Storage.
func (m *MemoryStorage) SaveConfigNumber(number uint32, dbHash [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configNumber = number
	m.dbHash = dbHash
	return nil
}
