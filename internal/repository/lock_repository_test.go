package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
)

func TestLockRepositoryWithoutClient(t *testing.T) {
	repo := NewLockRepository(nil, nil)

	acquired, err := repo.TrySetNX(context.Background(), "closure:lock:P1", "token", time.Minute)
	require.Error(t, err)
	assert.False(t, acquired)

	_, err = repo.Get(context.Background(), "closure:lock:P1")
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))

	deleted, err := repo.DeleteIfEquals(context.Background(), "closure:lock:P1", "token")
	require.NoError(t, err)
	assert.False(t, deleted)
}
