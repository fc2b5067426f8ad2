package zipcodec

import (
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/yeka/zip"
)

// openEncrypted reads a container whose members may be password protected.
// Both AES and legacy ZipCrypto members are accepted. A wrong password only
// surfaces when a member is opened.
func openEncrypted(r io.ReaderAt, size int64, password string) (archive.Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read zip container: %w", err)
	}

	rd := &reader{files: make(map[string]func() (io.ReadCloser, error), len(zr.File))}
	for _, f := range zr.File {
		name := strings.Trim(f.Name, "/")
		if name == "" {
			continue
		}
		isDir := strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
		rd.entries = append(rd.entries, archive.Entry{
			Name:    name,
			IsDir:   isDir,
			Size:    int64(f.UncompressedSize64),
			ModTime: f.ModTime(),
		})
		if isDir {
			continue
		}
		if f.IsEncrypted() {
			f.SetPassword(password)
		}
		rd.files[name] = f.Open
	}
	return rd, nil
}

// writeEncrypted writes every file member with AES-256. Directory members
// carry no content and stay in the clear.
func writeEncrypted(w io.Writer, sources []archive.Source, password string) error {
	zw := zip.NewWriter(w)
	for _, s := range sources {
		if err := writeEncryptedMember(zw, s, password); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip container: %w", err)
	}
	return nil
}

func writeEncryptedMember(zw *zip.Writer, s archive.Source, password string) error {
	if s.IsDir {
		hdr := &zip.FileHeader{Name: s.Name + "/", Method: zip.Store}
		hdr.SetModTime(s.ModTime)
		if _, err := zw.CreateHeader(hdr); err != nil {
			return fmt.Errorf("failed to add directory %s: %w", s.Name, err)
		}
		return nil
	}

	dst, err := zw.Encrypt(s.Name, password, zip.AES256Encryption)
	if err != nil {
		return fmt.Errorf("failed to add file %s: %w", s.Name, err)
	}
	return copySource(dst, s)
}
