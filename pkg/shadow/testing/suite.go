package testing

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/marmos91/dittovfs/pkg/shadow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite checks the shadow.Store contract. It is shared by every
// store implementation.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &shadowtesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) shadow.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh store for each test.
	NewStore func(t *testing.T) shadow.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("CreateIsEmpty", suite.testCreateIsEmpty)
	t.Run("WriteThenRead", suite.testWriteThenRead)
	t.Run("OverwriteReplaces", suite.testOverwriteReplaces)
	t.Run("WriteVisibleOnClose", suite.testWriteVisibleOnClose)
	t.Run("UnknownID", suite.testUnknownID)
	t.Run("Delete", suite.testDelete)
	t.Run("IDs", suite.testIDs)
	t.Run("ConcurrentShadows", suite.testConcurrentShadows)
}

func (suite *StoreTestSuite) newStore(t *testing.T) shadow.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustWrite(t *testing.T, s shadow.Store, id shadow.ID, data string) {
	t.Helper()
	w, err := s.OpenWriter(context.Background(), id)
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func mustRead(t *testing.T, s shadow.Store, id shadow.ID) string {
	t.Helper()
	r, err := s.OpenReader(context.Background(), id)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func (suite *StoreTestSuite) testCreateIsEmpty(t *testing.T) {
	s := suite.newStore(t)
	id, err := s.Create(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	info, err := s.Stat(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size)
	assert.Equal(t, "", mustRead(t, s, id))
}

func (suite *StoreTestSuite) testWriteThenRead(t *testing.T) {
	s := suite.newStore(t)
	id, err := s.Create(context.Background())
	require.NoError(t, err)

	mustWrite(t, s, id, "shadow content")
	assert.Equal(t, "shadow content", mustRead(t, s, id))

	info, err := s.Stat(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(len("shadow content")), info.Size)
	assert.False(t, info.ModTime.IsZero())
}

func (suite *StoreTestSuite) testOverwriteReplaces(t *testing.T) {
	s := suite.newStore(t)
	id, err := s.Create(context.Background())
	require.NoError(t, err)

	mustWrite(t, s, id, strings.Repeat("long ", 100))
	mustWrite(t, s, id, "short")
	assert.Equal(t, "short", mustRead(t, s, id))
}

func (suite *StoreTestSuite) testWriteVisibleOnClose(t *testing.T) {
	s := suite.newStore(t)
	id, err := s.Create(context.Background())
	require.NoError(t, err)
	mustWrite(t, s, id, "before")

	w, err := s.OpenWriter(context.Background(), id)
	require.NoError(t, err)
	_, err = io.WriteString(w, "after")
	require.NoError(t, err)
	assert.Equal(t, "before", mustRead(t, s, id))

	require.NoError(t, w.Close())
	assert.Equal(t, "after", mustRead(t, s, id))
}

func (suite *StoreTestSuite) testUnknownID(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()
	missing := shadow.NewID()

	_, err := s.OpenReader(ctx, missing)
	assert.True(t, errors.Is(err, shadow.ErrNotFound))
	_, err = s.OpenWriter(ctx, missing)
	assert.True(t, errors.Is(err, shadow.ErrNotFound))
	_, err = s.Stat(ctx, missing)
	assert.True(t, errors.Is(err, shadow.ErrNotFound))
	assert.NoError(t, s.Delete(ctx, missing))
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx)
	require.NoError(t, err)
	mustWrite(t, s, id, "gone soon")

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Stat(ctx, id)
	assert.True(t, errors.Is(err, shadow.ErrNotFound))
}

func (suite *StoreTestSuite) testIDs(t *testing.T) {
	ctx := context.Background()
	s := suite.newStore(t)

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	a, err := s.Create(ctx)
	require.NoError(t, err)
	b, err := s.Create(ctx)
	require.NoError(t, err)
	mustWrite(t, s, b, "pending")

	ids, err = s.IDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []shadow.ID{a, b}, ids)

	require.NoError(t, s.Delete(ctx, a))
	ids, err = s.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shadow.ID{b}, ids)
}

func (suite *StoreTestSuite) testConcurrentShadows(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	const n = 16
	ids := make([]shadow.ID, n)
	for i := range ids {
		id, err := s.Create(ctx)
		require.NoError(t, err)
		ids[i] = id
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := s.OpenWriter(ctx, id)
			if !assert.NoError(t, err) {
				return
			}
			_, _ = io.WriteString(w, strings.Repeat("x", i))
			assert.NoError(t, w.Close())
		}()
	}
	wg.Wait()

	for i, id := range ids {
		assert.Equal(t, strings.Repeat("x", i), mustRead(t, s, id))
	}
}
