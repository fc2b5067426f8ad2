// Package zipcodec implements archive.Codec for zip containers.
package zipcodec

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/marmos91/dittovfs/pkg/fserr"
)

// Codec reads and writes zip files. File members are written with Deflate.
// A codec carrying a password reads and writes AES-256 encrypted members.
type Codec struct {
	password string
}

var (
	_ archive.Codec         = Codec{}
	_ archive.PasswordCodec = Codec{}
)

// New returns a zip codec.
func New() Codec { return Codec{} }

func (Codec) Name() string { return "zip" }

// WithPassword implements archive.PasswordCodec.
func (c Codec) WithPassword(password string) archive.Codec {
	c.password = password
	return c
}

func (c Codec) Open(r io.ReaderAt, size int64) (archive.Reader, error) {
	if c.password != "" {
		return openEncrypted(r, size, c.password)
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read zip container: %w", err)
	}

	rd := &reader{files: make(map[string]func() (io.ReadCloser, error), len(zr.File))}
	for _, f := range zr.File {
		if f.Flags&flagEncrypted != 0 {
			return nil, fserr.New(fserr.ErrNotSupported, "zip container is encrypted and no password was given", f.Name)
		}
		name := strings.Trim(f.Name, "/")
		if name == "" {
			continue
		}
		isDir := strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
		rd.entries = append(rd.entries, archive.Entry{
			Name:    name,
			IsDir:   isDir,
			Size:    int64(f.UncompressedSize64),
			ModTime: f.Modified,
		})
		if !isDir {
			rd.files[name] = f.Open
		}
	}
	return rd, nil
}

func (c Codec) Write(w io.Writer, sources []archive.Source) error {
	if c.password != "" {
		return writeEncrypted(w, sources, c.password)
	}

	zw := zip.NewWriter(w)
	for _, s := range sources {
		if err := writeMember(zw, s); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip container: %w", err)
	}
	return nil
}

func writeMember(zw *zip.Writer, s archive.Source) error {
	hdr := &zip.FileHeader{Name: s.Name, Modified: s.ModTime}
	if s.IsDir {
		hdr.Name += "/"
		hdr.Method = zip.Store
		if _, err := zw.CreateHeader(hdr); err != nil {
			return fmt.Errorf("failed to add directory %s: %w", s.Name, err)
		}
		return nil
	}

	hdr.Method = zip.Deflate
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add file %s: %w", s.Name, err)
	}
	return copySource(dst, s)
}

func copySource(dst io.Writer, s archive.Source) error {
	src, err := s.Open()
	if err != nil {
		return fmt.Errorf("failed to open source for %s: %w", s.Name, err)
	}
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.Name, err)
	}
	return nil
}

// flagEncrypted is general purpose bit 0 of a zip member header.
const flagEncrypted = 0x1

// reader serves members of either zip implementation by name.
type reader struct {
	entries []archive.Entry
	files   map[string]func() (io.ReadCloser, error)
}

func (r *reader) Entries() []archive.Entry { return r.entries }

func (r *reader) Open(name string) (io.ReadCloser, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fserr.NewFileNotFound("/" + name)
	}
	rc, err := f()
	if err != nil {
		return nil, fmt.Errorf("failed to open zip member %s: %w", name, err)
	}
	return rc, nil
}
