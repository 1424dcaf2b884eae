package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a live server: REDIS_TEST_URL=redis://localhost:6379/15
func TestLease_SingleHolder(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	rdb, err := Dial(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	key := "parley:test:lease:" + uuid.New().String()
	defer rdb.Del(ctx, key)

	a := New(rdb, key, time.Second)
	b := New(rdb, key, time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second owner is refused")

	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "holder renews")

	require.NoError(t, b.Release(ctx), "foreign release is a no-op")
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestNew_DistinctOwners(t *testing.T) {
	assert.NotEqual(t, New(nil, "k", time.Second).Owner(), New(nil, "k", time.Second).Owner())
}
