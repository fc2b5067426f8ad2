package remote

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/dittovfs/pkg/address"
)

// EntryInfo describes one remote entry.
type EntryInfo struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Client is one connection to a remote server. The wire protocol is up to
// the implementation.
//
// Paths are absolute, decoded and "/"-separated ("/" is the server root).
// Missing entries are reported with fserr.ErrFileNotFound or
// fserr.ErrDirectoryNotFound.
type Client interface {
	Connect(ctx context.Context) error
	Connected() bool

	// Ping probes the server and returns the round-trip time.
	Ping(ctx context.Context) (time.Duration, error)

	Stat(ctx context.Context, path string) (EntryInfo, error)
	List(ctx context.Context, path string) ([]EntryInfo, error)

	// OpenRead streams the content of a file.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite replaces the content of a file. The content is committed when
	// the writer is closed.
	OpenWrite(ctx context.Context, path string) (io.WriteCloser, error)

	MakeDirectory(ctx context.Context, path string) error
	Delete(ctx context.Context, path string, recursive bool) error

	Close() error
}

// Endpoint is everything a Dialer needs to build a client.
type Endpoint struct {
	Scheme   string
	Server   string
	Port     int
	UserName string
	Password string

	// Options are the query variables of the filesystem's root address.
	Options map[string]string
}

// Dialer builds an unconnected client for an endpoint.
type Dialer func(ctx context.Context, ep Endpoint) (Client, error)

// EndpointFromAddress extracts the endpoint of a remote address. A missing
// port is replaced with defaultPort.
func EndpointFromAddress(addr address.Address, defaultPort int) Endpoint {
	port := addr.Port()
	if port == 0 {
		port = defaultPort
	}
	return Endpoint{
		Scheme:   addr.Scheme(),
		Server:   addr.Server(),
		Port:     port,
		UserName: addr.UserName(),
		Password: addr.Password(),
		Options:  addr.Query(),
	}
}
