package archive

import (
	"io"
	"time"
)

// Entry describes one member of an archive container. Names are
// "/"-separated, without leading or trailing slashes.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Reader gives access to the members of an opened container.
type Reader interface {
	// Entries lists every member in container order.
	Entries() []Entry

	// Open streams the decoded content of a file member.
	Open(name string) (io.ReadCloser, error)
}

// Source is a member to be written into a new container.
type Source struct {
	Entry

	// Open supplies the content of file members. Unused for directories.
	Open func() (io.ReadCloser, error)
}

// Codec reads and writes one container format. The binary format is opaque
// to the filesystem.
type Codec interface {
	// Name is the format name used in logs ("zip").
	Name() string

	// Open decodes the member table of a container.
	Open(r io.ReaderAt, size int64) (Reader, error)

	// Write encodes a complete container holding sources, in order.
	Write(w io.Writer, sources []Source) error
}

// PasswordCodec is a Codec that can protect container content with a
// password.
type PasswordCodec interface {
	Codec

	// WithPassword returns a codec that reads and writes containers
	// protected by password.
	WithPassword(password string) Codec
}
