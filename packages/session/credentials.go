package session

import (
	"strconv"
	"sync"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// CredentialStorage supplies credentials for protection spaces. The session
// consults it when a challenge arrives and no credential is attached to the
// request, and when rendering cURL commands.
type CredentialStorage interface {
	DefaultCredential(space engine.ProtectionSpace) (*engine.Credential, error)
	Credentials(space engine.ProtectionSpace) ([]*engine.Credential, error)
}

// MemoryCredentialStorage keeps credentials keyed by host and port.
type MemoryCredentialStorage struct {
	mu    sync.RWMutex
	creds map[string][]*engine.Credential
}

func NewMemoryCredentialStorage() *MemoryCredentialStorage {
	return &MemoryCredentialStorage{creds: make(map[string][]*engine.Credential)}
}

// Set stores credential for space. The first credential stored for a space
// is its default.
func (m *MemoryCredentialStorage) Set(space engine.ProtectionSpace, credential *engine.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := spaceKey(space)
	for i, c := range m.creds[key] {
		if c.User == credential.User {
			m.creds[key][i] = credential
			return
		}
	}
	m.creds[key] = append(m.creds[key], credential)
}

func (m *MemoryCredentialStorage) DefaultCredential(space engine.ProtectionSpace) (*engine.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	creds := m.creds[spaceKey(space)]
	if len(creds) == 0 {
		return nil, nil
	}
	return creds[0], nil
}

func (m *MemoryCredentialStorage) Credentials(space engine.ProtectionSpace) ([]*engine.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*engine.Credential(nil), m.creds[spaceKey(space)]...), nil
}

func spaceKey(space engine.ProtectionSpace) string {
	return space.Scheme + "://" + space.Host + ":" + strconv.Itoa(space.Port)
}
