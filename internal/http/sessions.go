package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"go-rdm-bridge-ui/internal/view"
)

// controllerFactory builds the view controller of a new page session.
type controllerFactory func() *view.Controller

// sessionStore keeps one view controller per page visit. Idle sessions expire
// after ttl; when full the least recently used session is evicted. Evicted
// controllers are closed, which cancels their in-flight requests.
type sessionStore struct {
	cache   *expirable.LRU[string, *view.Controller]
	factory controllerFactory
	metrics *Metrics
	logger  *zap.Logger
}

func newSessionStore(limit int, ttl time.Duration, factory controllerFactory, metrics *Metrics, logger *zap.Logger) *sessionStore {
	if limit <= 0 {
		limit = 256
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &sessionStore{factory: factory, metrics: metrics, logger: logger}
	s.cache = expirable.NewLRU[string, *view.Controller](limit, s.onEvict, ttl)
	return s
}

func (s *sessionStore) onEvict(id string, c *view.Controller) {
	c.Close()
	s.metrics.sessionClosed()
	s.logger.Debug("session closed", zap.String("session", id))
}

// Create registers a fresh session and returns its id.
func (s *sessionStore) Create() (string, *view.Controller) {
	id := uuid.NewString()
	c := s.factory()
	s.cache.Add(id, c)
	s.metrics.sessionOpened()
	s.logger.Debug("session opened", zap.String("session", id))
	return id, c
}

// Get returns the session and restarts its idle timer.
func (s *sessionStore) Get(id string) (*view.Controller, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	c, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	s.cache.Add(id, c)
	return c, true
}

// Len reports the number of live sessions.
func (s *sessionStore) Len() int {
	return s.cache.Len()
}

// Close ends every session.
func (s *sessionStore) Close() {
	s.cache.Purge()
}
