package withdrawal

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the on-disk form of the closed-window memo.
type State struct {
	Closed    map[string]*big.Int `json:"closed"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// LoadState reads the memo from a JSON file. Returns an empty state if the file doesn't exist.
func LoadState(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Closed: map[string]*big.Int{}}, nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Closed == nil {
		state.Closed = map[string]*big.Int{}
	}
	return &state, nil
}

// SaveState writes the memo to a JSON file.
func SaveState(filePath string, state *State) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(filePath, data, 0644)
}

// Store holds accrued points of withdrawals whose deadline has passed. Values
// never change once stored, so the store is shared by every program.
type Store struct {
	mu       sync.RWMutex
	state    *State
	filePath string
	dirty    bool
}

// OpenStore loads the memo from filePath. An empty path keeps it in memory only.
func OpenStore(filePath string) (*Store, error) {
	state := &State{Closed: map[string]*big.Int{}}
	if filePath != "" {
		loaded, err := LoadState(filePath)
		if err != nil {
			return nil, err
		}
		state = loaded
	}
	return &Store{state: state, filePath: filePath}, nil
}

// Get returns a copy of the memoized points for key.
func (s *Store) Get(key string) (*big.Int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.Closed[key]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(v), true
}

// Put memoizes points for key.
func (s *Store) Put(key string, points *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Closed[key]; ok {
		return
	}
	s.state.Closed[key] = new(big.Int).Set(points)
	s.dirty = true
}

// Len returns the number of memoized withdrawals.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Closed)
}

// Flush persists new entries since the last flush.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.filePath == "" {
		return nil
	}
	if err := SaveState(s.filePath, s.state); err != nil {
		return err
	}
	s.dirty = false
	return nil
}
