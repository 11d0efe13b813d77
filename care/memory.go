package care

import (
	"context"
	"sort"
	"sync"

	"github.com/medguardian/adherence-engine/adherence"
)

// Memory is an in-memory Store for tests and dev.
type Memory struct {
	mu    sync.RWMutex
	users map[UserID]User
	edges map[string]Supervision
}

func NewMemory() *Memory {
	return &Memory{users: make(map[UserID]User), edges: make(map[string]Supervision)}
}

func (m *Memory) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return &adherence.ConflictError{Resource: "user", Key: u.Username}
		}
		if existing.InviteCode == u.InviteCode {
			return &adherence.ConflictError{Resource: "invite_code", Key: u.InviteCode}
		}
	}
	if _, ok := m.users[u.ID]; ok {
		return &adherence.ConflictError{Resource: "user", Key: string(u.ID)}
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id UserID) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, &adherence.NotFoundError{Kind: "user", ID: string(id)}
	}
	return u, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, &adherence.NotFoundError{Kind: "user", ID: username}
}

func (m *Memory) GetUserByInviteCode(_ context.Context, code string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.InviteCode == code {
			return u, nil
		}
	}
	return User{}, &adherence.NotFoundError{Kind: "invite_code", ID: code}
}

func (m *Memory) CreateSupervision(_ context.Context, s Supervision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.edges {
		if e.SupervisorID == s.SupervisorID && e.SupervisedID == s.SupervisedID {
			return &adherence.ConflictError{Resource: "supervision", Key: string(s.SupervisorID) + "->" + string(s.SupervisedID)}
		}
	}
	m.edges[s.ID] = s
	return nil
}

func (m *Memory) named(s Supervision) Supervision {
	s.SupervisorName = m.users[s.SupervisorID].Username
	s.SupervisedName = m.users[s.SupervisedID].Username
	return s
}

func (m *Memory) GetSupervision(_ context.Context, id string) (Supervision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.edges[id]
	if !ok {
		return Supervision{}, &adherence.NotFoundError{Kind: "supervision", ID: id}
	}
	return m.named(s), nil
}

func (m *Memory) FindSupervision(_ context.Context, supervisor, supervised UserID) (Supervision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.edges {
		if s.SupervisorID == supervisor && s.SupervisedID == supervised {
			return m.named(s), nil
		}
	}
	return Supervision{}, &adherence.NotFoundError{Kind: "supervision", ID: string(supervisor) + "->" + string(supervised)}
}

func (m *Memory) ListSupervisions(_ context.Context, f SupervisionFilter) ([]Supervision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Supervision
	for _, s := range m.edges {
		if f.SupervisorID != "" && s.SupervisorID != f.SupervisorID {
			continue
		}
		if f.SupervisedID != "" && s.SupervisedID != f.SupervisedID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, m.named(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SetSupervisionStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.edges[id]
	if !ok {
		return &adherence.NotFoundError{Kind: "supervision", ID: id}
	}
	s.Status = status
	m.edges[id] = s
	return nil
}

// Reset drops all users and edges.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[UserID]User)
	m.edges = make(map[string]Supervision)
	return nil
}

var _ Store = (*Memory)(nil)
