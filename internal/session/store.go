// Package session owns the per-session agent bundles, credentials and
// contact details.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/smartfin/internal/agent"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/llm"
)

// Builder constructs agents from session state.
type Builder interface {
	Build(ctx context.Context, state agent.State) (*agent.Bundle, error)
	Corrector(state agent.State) (agent.Agent, error)
	Client(p domain.Provider, apiKey string) (llm.Client, error)
}

var errEvicted = errors.New("session evicted concurrently")

// maxRetries bounds how often a request re-resolves a session evicted
// under it.
const maxRetries = 3

type session struct {
	id string

	// mu guards everything below. Bundle construction holds it exclusively,
	// so at most one bundle is built per session at a time.
	mu          sync.RWMutex
	credentials map[domain.Provider]string
	contact     string
	models      map[domain.Capability]domain.ModelDescriptor
	bundle      *agent.Bundle
	stale       bool
	evicted     bool

	lastAccess atomic.Int64
}

func (s *session) touch(now time.Time) { s.lastAccess.Store(now.UnixNano()) }

func (s *session) idle(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.Unix(0, s.lastAccess.Load())) > ttl
}

// Store maps session ids to their state. It is the only owner of agent
// bundles.
type Store struct {
	builder  Builder
	defaults map[domain.Provider]string
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewStore creates a store. defaults are process-wide credentials used when
// a session has not registered its own key for a provider.
func NewStore(builder Builder, defaults map[domain.Provider]string) *Store {
	d := make(map[domain.Provider]string, len(defaults))
	for p, k := range defaults {
		if k != "" {
			d[p] = k
		}
	}
	return &Store{
		builder:  builder,
		defaults: d,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (st *Store) get(id string) *session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[id]
}

func (st *Store) getOrCreate(id string) *session {
	if s := st.get(id); s != nil {
		return s
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := &session{
		id:          id,
		credentials: make(map[domain.Provider]string),
		models:      make(map[domain.Capability]domain.ModelDescriptor),
	}
	s.touch(st.now())
	st.sessions[id] = s
	slog.Info("Session created", "session_id", id)
	return s
}

// credentials merges defaults with the session's own keys. Caller holds s.mu.
func (st *Store) credentials(s *session) map[domain.Provider]string {
	out := maps.Clone(st.defaults)
	for p, k := range s.credentials {
		out[p] = k
	}
	return out
}

// snapshot copies the build input. Caller holds s.mu.
func (st *Store) snapshot(s *session) agent.State {
	return agent.State{
		SessionID:   s.id,
		Credentials: st.credentials(s),
		Models:      maps.Clone(s.models),
		Contact: func() string {
			c, _ := st.Contact(s.id)
			return c
		},
	}
}

// withSession runs fn on the live session for id, retrying when an eviction
// removed the session between lookup and lock.
func (st *Store) withSession(id string, fn func(s *session) error) error {
	for range maxRetries {
		err := fn(st.getOrCreate(id))
		if !errors.Is(err, errEvicted) {
			return err
		}
	}
	return fmt.Errorf("session %s: %w", id, errEvicted)
}

// GetOrCreateAgent returns the session's agent for a capability, building
// the bundle when none exists, when credentials changed since the last
// build, or when force is set. A failed build keeps the previous bundle.
func (st *Store) GetOrCreateAgent(ctx context.Context, id string, c domain.Capability, force bool) (agent.Agent, error) {
	if !c.InBundle() {
		return nil, domain.NewError(domain.KindInvalidInput, fmt.Sprintf("Capability %q has no session agent.", c))
	}
	if st.get(id) == nil && len(st.defaults) == 0 {
		return nil, domain.ErrCredentialMissing
	}

	var out agent.Agent
	err := st.withSession(id, func(s *session) error {
		if !force {
			s.mu.RLock()
			if s.evicted {
				s.mu.RUnlock()
				return errEvicted
			}
			if s.bundle != nil && !s.stale {
				out, _ = s.bundle.Get(c)
				s.touch(st.now())
				s.mu.RUnlock()
				return nil
			}
			s.mu.RUnlock()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.evicted {
			return errEvicted
		}
		s.touch(st.now())
		// Another request may have built while we waited for the lock.
		if !force && s.bundle != nil && !s.stale {
			out, _ = s.bundle.Get(c)
			return nil
		}

		state := st.snapshot(s)
		if len(state.Credentials) == 0 {
			return domain.ErrCredentialMissing
		}
		b, err := st.builder.Build(ctx, state)
		if err != nil {
			slog.Error("Failed to build agent bundle", "session_id", id, "error", err)
			return err
		}
		s.bundle = b
		s.stale = false
		slog.Info("Agent bundle built", "session_id", id, "forced", force)

		out, _ = b.Get(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterCredential stores a provider key. A changed key marks the bundle
// stale so the next GetOrCreateAgent rebuilds it.
func (st *Store) RegisterCredential(id string, p domain.Provider, key string) error {
	if key == "" {
		return domain.NewError(domain.KindInvalidInput, "API key cannot be empty.")
	}
	return st.withSession(id, func(s *session) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.evicted {
			return errEvicted
		}
		if prev, ok := s.credentials[p]; ok && prev == key {
			s.touch(st.now())
			return nil
		}
		s.credentials[p] = key
		if s.bundle != nil {
			s.stale = true
		}
		s.touch(st.now())
		slog.Info("Credential registered", "session_id", id, "provider", p, "rebuild_pending", s.stale)
		return nil
	})
}

// RegisterContact stores the session's email address. It creates the session
// when none exists so a contact sent before the first key is kept; an entry
// that never gets a credential is reclaimed by the idle sweep.
func (st *Store) RegisterContact(id, email string) error {
	return st.withSession(id, func(s *session) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.evicted {
			return errEvicted
		}
		s.contact = email
		s.touch(st.now())
		return nil
	})
}

// Contact returns the session's registered email.
func (st *Store) Contact(id string) (string, bool) {
	s := st.get(id)
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contact, s.contact != ""
}

// SetModel selects the model for a capability. The choice survives bundle
// rebuilds; a live agent switches immediately.
func (st *Store) SetModel(id string, c domain.Capability, name string) (domain.ModelDescriptor, error) {
	model, ok := domain.LookupModel(name)
	if !ok {
		return domain.ModelDescriptor{}, domain.ErrUnknownModel
	}
	if st.get(id) == nil && len(st.defaults) == 0 {
		return domain.ModelDescriptor{}, domain.ErrCredentialMissing
	}

	err := st.withSession(id, func(s *session) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.evicted {
			return errEvicted
		}
		key := st.credentials(s)[model.Provider]
		if key == "" {
			return domain.NewError(domain.KindCredentialMissing,
				fmt.Sprintf("No API key registered for provider %s, please add one before selecting this model.", model.Provider))
		}

		s.models[c] = model
		s.touch(st.now())
		if s.bundle == nil || s.stale {
			return nil
		}
		a, ok := s.bundle.Get(c)
		if !ok {
			return nil
		}
		client, err := st.builder.Client(model.Provider, key)
		if err != nil {
			return err
		}
		a.SwitchModel(model, client)
		return nil
	})
	if err != nil {
		return domain.ModelDescriptor{}, err
	}
	slog.Info("Model changed", "session_id", id, "capability", c, "model", model.Name)
	return model, nil
}

// Corrector builds a stateless helper agent from the session's credentials.
func (st *Store) Corrector(_ context.Context, id string) (agent.Agent, error) {
	var state agent.State
	if s := st.get(id); s != nil {
		s.mu.RLock()
		state = st.snapshot(s)
		s.mu.RUnlock()
	} else {
		state = agent.State{SessionID: id, Credentials: maps.Clone(st.defaults)}
	}
	if len(state.Credentials) == 0 {
		return nil, domain.ErrCredentialMissing
	}
	return st.builder.Corrector(state)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Expired lists sessions idle for longer than ttl.
func (st *Store) Expired(ttl time.Duration) []string {
	now := st.now()
	st.mu.RLock()
	defer st.mu.RUnlock()
	var ids []string
	for id, s := range st.sessions {
		if s.idle(now, ttl) {
			ids = append(ids, id)
		}
	}
	return ids
}

// EvictIfIdle evicts the session only if it is still idle. A session busy
// with a request is never evicted.
func (st *Store) EvictIfIdle(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return st.evict(ctx, id, func(s *session) bool { return s.idle(st.now(), ttl) })
}

// Evict removes the session and tears down its agents.
func (st *Store) Evict(ctx context.Context, id string) bool {
	ok, _ := st.evict(ctx, id, func(*session) bool { return true })
	return ok
}

func (st *Store) evict(ctx context.Context, id string, should func(*session) bool) (bool, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return false, nil
	}
	if !s.mu.TryLock() {
		st.mu.Unlock()
		return false, nil
	}
	if !should(s) {
		s.mu.Unlock()
		st.mu.Unlock()
		return false, nil
	}
	s.evicted = true
	b := s.bundle
	s.bundle = nil
	st.mu.Unlock()

	// Teardown is scoped by session id, so the entry stays in the map and
	// s.mu stays held until it finishes. Concurrent callers block on s.mu,
	// see evicted and retry against a fresh session.
	if b != nil {
		b.Teardown(ctx, id)
	}

	st.mu.Lock()
	if st.sessions[id] == s {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	s.mu.Unlock()

	slog.Info("Session evicted", "session_id", id)
	return true, nil
}
