package bridge

import (
	"fmt"
	"sync"
)

// ServiceMap tracks the Services open on one Socket, keyed by local stream
// id.
type ServiceMap struct {
	mu      sync.Mutex
	remotes map[uint32]*Service
}

// NewServiceMap creates an empty ServiceMap.
func NewServiceMap() *ServiceMap {
	return &ServiceMap{remotes: make(map[uint32]*Service)}
}

// Count returns the number of open services.
func (m *ServiceMap) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.remotes)
}

// Insert registers svc under localID. It panics if localID is already in
// use, mirroring the protocol violation this would represent.
func (m *ServiceMap) Insert(localID uint32, svc *Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.remotes[localID]; ok {
		panic(fmt.Sprintf("bridge: local id %d is already in use", localID))
	}
	m.remotes[localID] = svc
}

// Get returns the service registered under localID, or nil.
func (m *ServiceMap) Get(localID uint32) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remotes[localID]
}

// Remove unregisters and returns the service at localID, or nil if absent.
func (m *ServiceMap) Remove(localID uint32) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.remotes[localID]
	if !ok {
		return nil
	}
	delete(m.remotes, localID)
	return svc
}

// End closes every open service and clears the map.
func (m *ServiceMap) End() {
	m.mu.Lock()
	remotes := m.remotes
	m.remotes = make(map[uint32]*Service)
	m.mu.Unlock()

	for _, svc := range remotes {
		svc.End()
	}
}
