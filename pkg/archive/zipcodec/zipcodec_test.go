package zipcodec

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func source(name, content string) archive.Source {
	return archive.Source{
		Entry: archive.Entry{Name: name, ModTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		Open:  func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

func TestWriteThenOpen(t *testing.T) {
	var buf bytes.Buffer
	err := New().Write(&buf, []archive.Source{
		{Entry: archive.Entry{Name: "docs", IsDir: true}},
		source("docs/readme.txt", "hello"),
		source("top.txt", strings.Repeat("x", 4096)),
	})
	require.NoError(t, err)

	r, err := New().Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "docs", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "docs/readme.txt", entries[1].Name)
	assert.False(t, entries[1].IsDir)
	assert.Equal(t, int64(5), entries[1].Size)
	assert.Equal(t, int64(4096), entries[2].Size)

	rc, err := r.Open("docs/readme.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))
}

func TestFilesAreDeflated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New().Write(&buf, []archive.Source{source("big.txt", strings.Repeat("a", 1<<16))}))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, zip.Deflate, zr.File[0].Method)
	assert.Less(t, zr.File[0].CompressedSize64, zr.File[0].UncompressedSize64)
}

func TestOpenMissingMember(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New().Write(&buf, nil))

	r, err := New().Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Empty(t, r.Entries())

	_, err = r.Open("nope.txt")
	assert.True(t, errors.Is(err, fserr.FileNotFound))
}

func TestDirectoriesHaveNoContent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New().Write(&buf, []archive.Source{{Entry: archive.Entry{Name: "d", IsDir: true}}}))

	r, err := New().Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, r.Entries(), 1)
	assert.True(t, r.Entries()[0].IsDir)

	_, err = r.Open("d")
	assert.True(t, errors.Is(err, fserr.FileNotFound))
}

func TestOpenRejectsGarbage(t *testing.T) {
	data := []byte("not a zip file")
	_, err := New().Open(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

func TestSourceErrorAborts(t *testing.T) {
	var buf bytes.Buffer
	err := New().Write(&buf, []archive.Source{{
		Entry: archive.Entry{Name: "broken.txt"},
		Open:  func() (io.ReadCloser, error) { return nil, errors.New("boom") },
	}})
	assert.ErrorContains(t, err, "boom")
}

func TestPasswordProtectedContainer(t *testing.T) {
	var buf bytes.Buffer
	codec := New().WithPassword("s3cret")
	require.NoError(t, codec.Write(&buf, []archive.Source{
		{Entry: archive.Entry{Name: "docs", IsDir: true}},
		source("docs/readme.txt", "classified content"),
	}))
	assert.False(t, bytes.Contains(buf.Bytes(), []byte("classified content")))

	_, err := New().Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.True(t, errors.Is(err, fserr.NotSupported))

	r, err := codec.Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, r.Entries(), 2)
	assert.True(t, r.Entries()[0].IsDir)

	rc, err := r.Open("docs/readme.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "classified content", string(data))

	wrong, err := New().WithPassword("guess").Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	rc, err = wrong.Open("docs/readme.txt")
	if err == nil {
		_, err = io.ReadAll(rc)
		_ = rc.Close()
	}
	assert.Error(t, err)
}
