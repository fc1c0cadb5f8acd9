// Package profile stores named connection profiles. The protocol engine only
// consumes the Store interface; persistence backends live outside it.
package profile

import (
	"errors"
	"sync"

	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/protocol"
)

var ProfileNameEmptyError = errors.New("profile name is empty")
var ProfileNotFoundError = errors.New("profile does not exist")

type Store interface {
	Get(name string) (*protocol.Endpoint, error)
	Save(ep *protocol.Endpoint) error
	Delete(name string) error
	List() []*protocol.Endpoint
}

type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*protocol.Endpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*protocol.Endpoint),
	}
}

func (ms *MemoryStore) Get(name string) (*protocol.Endpoint, error) {
	if name == "" {
		return nil, ProfileNameEmptyError
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ep, ok := ms.profiles[name]
	if !ok {
		return nil, ProfileNotFoundError
	}
	return ep, nil
}

func (ms *MemoryStore) Save(ep *protocol.Endpoint) error {
	if ep.Name == "" {
		return ProfileNameEmptyError
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.profiles[ep.Name] = ep
	return nil
}

func (ms *MemoryStore) Delete(name string) error {
	if name == "" {
		return ProfileNameEmptyError
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.profiles, name)
	return nil
}

func (ms *MemoryStore) List() []*protocol.Endpoint {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	eps := make([]*protocol.Endpoint, 0, len(ms.profiles))
	for _, ep := range ms.profiles {
		eps = append(eps, ep)
	}
	return eps
}
