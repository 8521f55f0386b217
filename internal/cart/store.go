package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/storage"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// ErrStaleRevision is returned by DispatchAt when the item list changed
// after the caller read the revision it computed against.
var ErrStaleRevision = errors.New("cart changed since revision was read")

type entry struct {
	mu     sync.Mutex
	state  models.CartState
	loaded bool
	dirty  bool

	// refs counts callers holding or waiting for mu; guarded by Store.mu
	refs int
}

// Store applies cart actions per session and persists every resulting
// snapshot. Dispatches for one session are applied in call order. Only
// sessions in use or with an unpersisted snapshot stay in process; the
// rest are read back from storage.
type Store struct {
	storage storage.Storage
	ttl     time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewStore creates a new cart store on top of storage
func NewStore(s storage.Storage, ttl time.Duration) *Store {
	return &Store{
		storage:  s,
		ttl:      ttl,
		logger:   util.GetLogger(),
		sessions: make(map[string]*entry),
	}
}

// Key returns the storage key of a session cart
func Key(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// Load returns the current cart of a session, hydrating it from storage
// on first use. It never fails; unreadable snapshots yield an empty cart.
func (s *Store) Load(ctx context.Context, sessionID string) models.CartState {
	e := s.acquire(sessionID)
	defer s.release(sessionID, e)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.hydrate(ctx, sessionID, e)
	return e.state
}

// Dispatch applies actions in order and persists the result
func (s *Store) Dispatch(ctx context.Context, sessionID string, actions ...Action) models.CartState {
	e := s.acquire(sessionID)
	defer s.release(sessionID, e)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.hydrate(ctx, sessionID, e)
	return s.apply(ctx, sessionID, e, actions)
}

// DispatchAt applies actions only if the cart revision still equals
// revision. Fee and discount writes use it so results computed for an
// older item list are dropped.
func (s *Store) DispatchAt(ctx context.Context, sessionID string, revision int64, actions ...Action) (models.CartState, error) {
	e := s.acquire(sessionID)
	defer s.release(sessionID, e)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.hydrate(ctx, sessionID, e)
	if e.state.Revision != revision {
		return e.state, ErrStaleRevision
	}
	return s.apply(ctx, sessionID, e, actions), nil
}

// Forget drops the in-process copy of a session cart and its snapshot
func (s *Store) Forget(ctx context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if err := s.storage.Remove(ctx, Key(sessionID)); err != nil {
		s.logger.Warn("Failed to remove cart snapshot",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

func (s *Store) acquire(sessionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		e = &entry{state: Empty()}
		s.sessions[sessionID] = e
	}
	e.refs++
	return e
}

// release drops the caller's reference, evicting the entry once nobody
// uses it and storage holds its latest snapshot. Must be called after
// e.mu is unlocked.
func (s *Store) release(sessionID string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refs--
	if e.refs > 0 || s.sessions[sessionID] != e {
		return
	}

	// refs is zero, so nobody else can be holding or waiting for e.mu
	e.mu.Lock()
	dirty := e.dirty
	e.mu.Unlock()

	if !dirty {
		delete(s.sessions, sessionID)
	}
}

// resident returns the number of sessions kept in process
func (s *Store) resident() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// hydrate must be called with e.mu held
func (s *Store) hydrate(ctx context.Context, sessionID string, e *entry) {
	if e.dirty {
		return
	}

	raw, err := s.storage.Get(ctx, Key(sessionID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if !e.loaded {
			e.state = Empty()
		}
	case err != nil:
		s.logger.Warn("Failed to read cart snapshot, using in-process state",
			zap.String("session_id", sessionID),
			zap.Error(err))
	default:
		var state models.CartState
		if err := json.Unmarshal(raw, &state); err != nil {
			s.logger.Warn("Discarding unreadable cart snapshot",
				zap.String("session_id", sessionID),
				zap.Error(err))
			break
		}
		if state.Items == nil {
			state.Items = []models.CartItem{}
		}
		e.state = recompute(state)
	}
	e.loaded = true
}

// apply must be called with e.mu held
func (s *Store) apply(ctx context.Context, sessionID string, e *entry, actions []Action) models.CartState {
	for _, action := range actions {
		e.state = Reduce(e.state, action)
		util.CartActionsTotal.WithLabelValues(string(action.Type)).Inc()
	}
	s.persist(ctx, sessionID, e)
	return e.state
}

// persist must be called with e.mu held. Failures are logged and the
// in-process state stays authoritative until a later write succeeds.
func (s *Store) persist(ctx context.Context, sessionID string, e *entry) {
	raw, err := json.Marshal(e.state)
	if err == nil {
		err = s.storage.Set(ctx, Key(sessionID), raw, s.ttl)
	}
	if err != nil {
		e.dirty = true
		util.CartPersistFailuresTotal.Inc()
		s.logger.Error("Failed to persist cart snapshot",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	e.dirty = false
}
