// Package address implements the node address model used by every filesystem.
//
// An Address is an immutable, fully normalized representation of a URI of one
// of two shapes:
//
//	scheme://[user[:password]@]server[:port]/path?query
//	scheme://[inner-uri]/path?query
//
// The second (layered) form embeds a complete address of another filesystem,
// for example the file that backs an archive:
//
//	zip://[file:///tmp/data.zip]/docs/readme.txt
//
// Path segments are stored percent-decoded and are rendered percent-encoded.
// Two addresses that name the same node compare equal no matter how they were
// spelled (redundant "." and ".." segments, duplicate slashes, escaped
// characters, letter case of scheme and server).
package address

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/marmos91/dittovfs/pkg/fserr"
)

// Address identifies a node. The zero value is not a valid address; use Parse.
type Address struct {
	scheme   string
	server   string
	user     string
	password string
	port     int
	segments []string
	query    map[string]string
	inner    *Address
}

// Scheme returns the lower-cased scheme.
func (a Address) Scheme() string { return a.scheme }

// Server returns the lower-cased server name, empty if the address has none.
func (a Address) Server() string { return a.server }

// UserName returns the user name from the authority, if any.
func (a Address) UserName() string { return a.user }

// Password returns the password from the authority, if any.
func (a Address) Password() string { return a.password }

// Port returns the explicit port, or 0 if the address does not specify one.
func (a Address) Port() int { return a.port }

// Inner returns the embedded address of a layered address.
func (a Address) Inner() (Address, bool) {
	if a.inner == nil {
		return Address{}, false
	}
	return *a.inner, true
}

// IsLayered reports whether the address embeds another address.
func (a Address) IsLayered() bool { return a.inner != nil }

// Segments returns a copy of the normalized path segments.
func (a Address) Segments() []string {
	out := make([]string, len(a.segments))
	copy(out, a.segments)
	return out
}

// Depth returns the number of path segments.
func (a Address) Depth() int { return len(a.segments) }

// QueryValue returns the value of a query variable.
func (a Address) QueryValue(name string) (string, bool) {
	v, ok := a.query[name]
	return v, ok
}

// Query returns a copy of the query variables.
func (a Address) Query() map[string]string {
	out := make(map[string]string, len(a.query))
	for k, v := range a.query {
		out[k] = v
	}
	return out
}

// IsRoot reports whether the address points at its filesystem root.
func (a Address) IsRoot() bool { return len(a.segments) == 0 }

// Name returns the last path segment, or "" for the root.
func (a Address) Name() string {
	if len(a.segments) == 0 {
		return ""
	}
	return a.segments[len(a.segments)-1]
}

// AbsolutePath returns the decoded path, always starting with "/".
func (a Address) AbsolutePath() string {
	return "/" + strings.Join(a.segments, "/")
}

// SlashFreePath is AbsolutePath for backends that key entries by their
// decoded path. A segment holding an encoded "/" would alias another path
// there, so it fails with fserr.ErrInvalidPath.
func (a Address) SlashFreePath() (string, error) {
	for _, s := range a.segments {
		if strings.Contains(s, "/") {
			return "", fserr.NewInvalidPath(a.AbsolutePath(), "segment contains a path separator")
		}
	}
	return a.AbsolutePath(), nil
}

// EscapedPath returns the percent-encoded path, always starting with "/".
func (a Address) EscapedPath() string {
	var b strings.Builder
	b.WriteByte('/')
	for i, s := range a.segments {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// Root returns the address of the filesystem root this address belongs to.
// Query variables are dropped.
func (a Address) Root() Address {
	r := a
	r.segments = nil
	r.query = nil
	return r
}

// Parent returns the address of the containing directory. The second result
// is false for a root address.
func (a Address) Parent() (Address, bool) {
	if len(a.segments) == 0 {
		return Address{}, false
	}
	p := a
	p.segments = a.segments[: len(a.segments)-1 : len(a.segments)-1]
	p.query = nil
	return p, true
}

// Child returns the address of the named entry inside a.
func (a Address) Child(name string) (Address, error) {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return Address{}, fserr.NewInvalidPath(a.AbsolutePath()+"/"+name, "invalid node name")
	}
	c := a
	c.segments = append(a.Segments(), name)
	c.query = nil
	return c, nil
}

// WithSegments returns a copy of a at a new path. The segments are normalized.
func (a Address) WithSegments(segments []string) (Address, error) {
	norm, err := Normalize(segments)
	if err != nil {
		return Address{}, err
	}
	c := a
	c.segments = norm
	c.query = nil
	return c, nil
}

// IsAncestorOf reports whether other is strictly below a in the same filesystem.
func (a Address) IsAncestorOf(other Address) bool {
	if !a.SameRoot(other) || len(other.segments) <= len(a.segments) {
		return false
	}
	for i, s := range a.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

// SameRoot reports whether a and other belong to the same filesystem root.
func (a Address) SameRoot(other Address) bool {
	return a.rootKey() == other.rootKey()
}

// Key returns the canonical identity of the address. Equal addresses have
// equal keys. Query variables do not participate.
func (a Address) Key() string {
	return a.rootKey() + a.EscapedPath()
}

// RootKey returns the canonical identity of the address's filesystem root.
func (a Address) RootKey() string {
	return a.rootKey()
}

func (a Address) rootKey() string {
	var b strings.Builder
	b.WriteString(a.scheme)
	b.WriteString("://")
	if a.inner != nil {
		b.WriteByte('[')
		b.WriteString(a.inner.Key())
		b.WriteByte(']')
		return b.String()
	}
	b.WriteString(a.authority())
	return b.String()
}

// Equal reports structural equality.
func (a Address) Equal(other Address) bool {
	return a.Key() == other.Key()
}

// String renders the address as a URI that Parse accepts.
func (a Address) String() string {
	var b strings.Builder
	b.WriteString(a.scheme)
	b.WriteString("://")
	if a.inner != nil {
		b.WriteByte('[')
		b.WriteString(a.inner.String())
		b.WriteByte(']')
	} else {
		b.WriteString(a.authority())
	}
	b.WriteString(a.EscapedPath())
	if len(a.query) > 0 {
		keys := make([]string, 0, len(a.query))
		for k := range a.query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(a.query[k]))
		}
	}
	return b.String()
}

func (a Address) authority() string {
	if a.server == "" && a.user == "" && a.password == "" && a.port == 0 {
		return ""
	}
	var b strings.Builder
	if a.user != "" || a.password != "" {
		var ui *url.Userinfo
		if a.password != "" {
			ui = url.UserPassword(a.user, a.password)
		} else {
			ui = url.User(a.user)
		}
		b.WriteString(ui.String())
		b.WriteByte('@')
	}
	b.WriteString(a.server)
	if a.port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(a.port))
	}
	return b.String()
}
