package badger

import (
	"context"
	"testing"

	"github.com/marmos91/dittovfs/pkg/shadow"
	shadowtesting "github.com/marmos91/dittovfs/pkg/shadow/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	suite := &shadowtesting.StoreTestSuite{
		NewStore: func(t *testing.T) shadow.Store {
			s, err := New(context.Background(), Config{InMemory: true})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestShadowsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	id, err := s.Create(ctx)
	require.NoError(t, err)
	w, err := s.OpenWriter(ctx, id)
	require.NoError(t, err)
	_, err = w.Write([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, s.Close())

	s, err = New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shadow.ID{id}, ids)

	info, err := s.Stat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Size)
}

func TestRecordRoundTrip(t *testing.T) {
	data, err := encode(record{Data: []byte{1, 2, 3}, ModTime: 42})
	require.NoError(t, err)
	r, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, r.Data)
	assert.Equal(t, int64(42), r.ModTime)
}

func TestRequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
