package storefake

import (
	"sync"

	"github.com/jrsteele09/go-collab-client/credentials"
)

var _ credentials.Store = (*FakeStore)(nil)

type FakeStore struct {
	pair   credentials.Pair
	writes int
	lock   sync.RWMutex
}

func NewFakeStore(initial credentials.Pair) *FakeStore {
	return &FakeStore{pair: initial}
}

func (s *FakeStore) Get() (credentials.Pair, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.pair, nil
}

func (s *FakeStore) Replace(pair credentials.Pair) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.pair = pair
	s.writes++
	return nil
}

func (s *FakeStore) ReplaceIf(expectedAccessToken string, pair credentials.Pair) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.pair.AccessToken != expectedAccessToken {
		return false, nil
	}
	s.pair = pair
	s.writes++
	return true, nil
}

func (s *FakeStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.pair = credentials.Pair{}
	s.writes++
	return nil
}

// Writes returns how many mutating calls have been applied
func (s *FakeStore) Writes() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.writes
}
