package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/brief-engine/internal/config"
	"github.com/xiy/brief-engine/internal/store"
	"github.com/xiy/brief-engine/pkg/types"
)

// Service is the per-user item memory: fingerprint -> last known record.
type Service struct {
	store  store.ItemStore
	cfg    config.Config
	userRe *regexp.Regexp
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a memory service.
func NewService(st store.ItemStore, cfg config.Config, logger *log.Logger, opts ...Option) (*Service, error) {
	re, err := regexp.Compile(cfg.UserIDPattern)
	if err != nil {
		return nil, fmt.Errorf("compile user id pattern: %w", err)
	}
	s := &Service{
		store:  st,
		cfg:    cfg,
		userRe: re,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  map[string]*sync.Mutex{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Now returns the service clock, in UTC.
func (s *Service) Now() time.Time { return s.now().UTC() }

// Lock takes the user's critical section and returns its release func.
// Detection for one user is read-then-write and must not interleave.
func (s *Service) Lock(userID string) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// RecordItem persists one sighting and returns the stored view.
func (s *Service) RecordItem(ctx context.Context, in types.RecordInput) (types.ItemMemory, error) {
	if err := s.ValidateUser(in.UserID); err != nil {
		return types.ItemMemory{}, err
	}
	if strings.TrimSpace(in.Fingerprint) == "" {
		return types.ItemMemory{}, errors.New("fingerprint is required")
	}
	if strings.TrimSpace(in.ContentHash) == "" {
		return types.ItemMemory{}, errors.New("content_hash is required")
	}
	return s.store.UpsertItem(ctx, in, s.Now())
}

// HasSeen reports whether the user has a record for fingerprint.
func (s *Service) HasSeen(ctx context.Context, userID, fingerprint string) (bool, error) {
	_, ok, err := s.Get(ctx, userID, fingerprint)
	return ok, err
}

// Get returns the stored record, if any. Unknown users are not an error.
func (s *Service) Get(ctx context.Context, userID, fingerprint string) (types.ItemMemory, bool, error) {
	if err := s.ValidateUser(userID); err != nil {
		return types.ItemMemory{}, false, err
	}
	rec, err := s.store.GetItem(ctx, userID, fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ItemMemory{}, false, nil
		}
		return types.ItemMemory{}, false, err
	}
	return rec, true, nil
}

// Recent returns the dedup lookback window: items seen in the last
// lookback_days, capped at lookback_items, newest first.
func (s *Service) Recent(ctx context.Context, userID string) ([]types.ItemMemory, error) {
	if err := s.ValidateUser(userID); err != nil {
		return nil, err
	}
	since := s.Now().Add(-time.Duration(s.cfg.Novelty.LookbackDays) * 24 * time.Hour)
	return s.store.RecentItems(ctx, userID, since, s.cfg.Novelty.LookbackItems)
}

// Stats summarizes the user's memory.
func (s *Service) Stats(ctx context.Context, userID string) (types.MemoryStats, error) {
	if err := s.ValidateUser(userID); err != nil {
		return types.MemoryStats{}, err
	}
	return s.store.ItemStats(ctx, userID)
}

// Clear irreversibly wipes the user's memory.
func (s *Service) Clear(ctx context.Context, userID string) (int64, error) {
	if err := s.ValidateUser(userID); err != nil {
		return 0, err
	}
	unlock := s.Lock(userID)
	defer unlock()
	n, err := s.store.DeleteUserItems(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("memory cleared", "user", userID, "items", n)
	return n, nil
}

// ValidateUser checks the user id against the configured pattern.
func (s *Service) ValidateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user_id is required")
	}
	if !s.userRe.MatchString(userID) {
		return fmt.Errorf("user_id %q does not match required pattern", userID)
	}
	return nil
}
