package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
)

type lockStore interface {
	TrySetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	DeleteIfEquals(ctx context.Context, key, token string) (bool, error)
}

// RunLockService keeps two submitting runs from touching the same program at once.
type RunLockService struct {
	store  lockStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewRunLockService constructs a RunLockService.
func NewRunLockService(store lockStore, ttl time.Duration, logger *zap.Logger) *RunLockService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RunLockService{store: store, ttl: ttl, logger: logger}
}

func lockKey(programID string) string {
	return "closure:lock:" + programID
}

// Acquire takes the program lock. The returned func releases it and is a no-op
// once the lock expired or changed hands.
func (s *RunLockService) Acquire(ctx context.Context, programID string) (func(context.Context) error, error) {
	key := lockKey(programID)
	token := uuid.NewString()

	acquired, err := s.store.TrySetNX(ctx, key, token, s.ttl)
	if err != nil {
		s.logger.Error("RunLockService.Acquire error", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	if !acquired {
		holder, gerr := s.store.Get(ctx, key)
		if gerr != nil && !errors.Is(gerr, appErrors.ErrCacheMiss) {
			s.logger.Warn("RunLockService.Acquire could not read holder", zap.String("key", key), zap.Error(gerr))
		}
		s.logger.Info("RunLockService.Acquire not acquired", zap.String("key", key), zap.String("holder", holder))
		return nil, appErrors.Clone(appErrors.ErrLocked, fmt.Sprintf("program %s is locked by another closure run", programID))
	}
	s.logger.Debug("RunLockService.Acquire acquired", zap.String("key", key), zap.Duration("ttl", s.ttl))

	release := func(ctx context.Context) error {
		deleted, err := s.store.DeleteIfEquals(ctx, key, token)
		if err != nil {
			return err
		}
		if !deleted {
			s.logger.Warn("RunLockService lock expired before release", zap.String("key", key))
		}
		return nil
	}
	return release, nil
}
