package fserr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewFileNotFound("/a/b.txt")

	assert.True(t, errors.Is(err, FileNotFound))
	assert.False(t, errors.Is(err, DirectoryNotFound))

	wrapped := fmt.Errorf("open: %w", err)
	assert.True(t, errors.Is(wrapped, FileNotFound))
	assert.Equal(t, ErrFileNotFound, CodeOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
}

func TestErrorMessage(t *testing.T) {
	t.Run("code name used when message empty", func(t *testing.T) {
		assert.Equal(t, "directory not found: /x", NewDirectoryNotFound("/x").Error())
	})

	t.Run("cause appended", func(t *testing.T) {
		err := NewConnection("srv:6021", io.ErrUnexpectedEOF)
		assert.Equal(t, "cannot connect: srv:6021: unexpected EOF", err.Error())
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
		require.ErrorIs(t, err, Connection)
	})
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(0), CodeOf(io.EOF))
	assert.Equal(t, "error code 99", ErrorCode(99).String())
}
