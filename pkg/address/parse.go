package address

import (
	"errors"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/marmos91/dittovfs/pkg/fserr"
)

// Parse parses a URI into a normalized Address.
//
// Layered URIs (scheme://[inner]/path) are parsed recursively. The inner URI
// may be given verbatim or percent-encoded as a whole.
//
// Errors:
//   - fserr.ErrMalformedAddress: missing or invalid scheme, bad authority,
//     unbalanced brackets, invalid escapes
//   - fserr.ErrInvalidPath: the path climbs above the root with ".."
func Parse(uri string) (Address, error) {
	// ========================================================================
	// Step 1: Scheme
	// ========================================================================

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Address{}, fserr.NewMalformedAddress(uri, "missing scheme separator")
	}
	if !validScheme(scheme) {
		return Address{}, fserr.NewMalformedAddress(uri, "invalid scheme")
	}

	a := Address{scheme: strings.ToLower(scheme)}

	// ========================================================================
	// Step 2: Inner address or authority
	// ========================================================================

	innerURI, end, err := innerAddress(rest)
	if err != nil {
		return Address{}, fserr.NewMalformedAddress(uri, err.Error())
	}
	if end > 0 {
		inner, err := Parse(innerURI)
		if err != nil {
			return Address{}, err
		}
		a.inner = &inner
		rest = rest[end+1:]
		if rest != "" && rest[0] != '/' && rest[0] != '?' {
			return Address{}, fserr.NewMalformedAddress(uri, "unexpected text after inner address")
		}
	} else {
		end := strings.IndexAny(rest, "/?")
		if end < 0 {
			end = len(rest)
		}
		if err := a.parseAuthority(rest[:end]); err != nil {
			return Address{}, fserr.NewMalformedAddress(uri, err.Error())
		}
		rest = rest[end:]
	}

	// ========================================================================
	// Step 3: Path and query
	// ========================================================================

	rawPath, rawQuery, _ := strings.Cut(rest, "?")

	segments, err := splitEscaped(rawPath)
	if err != nil {
		return Address{}, fserr.NewMalformedAddress(uri, "invalid path escape")
	}
	a.segments, err = Normalize(segments)
	if err != nil {
		return Address{}, err
	}

	if rawQuery != "" {
		values, err := url.ParseQuery(rawQuery)
		if err != nil {
			return Address{}, fserr.NewMalformedAddress(uri, "invalid query")
		}
		a.query = make(map[string]string, len(values))
		for k, v := range values {
			if len(v) > 0 {
				a.query[k] = v[0]
			} else {
				a.query[k] = ""
			}
		}
	}

	return a, nil
}

// MustParse is like Parse but panics on error.
func MustParse(uri string) Address {
	a, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return a
}

// Normalize resolves "." and ".." segments and drops empty ones.
// A ".." with nothing left to pop fails with fserr.ErrInvalidPath.
func Normalize(segments []string) ([]string, error) {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) == 0 {
				return nil, fserr.NewInvalidPath("/"+strings.Join(segments, "/"), "cannot go above root")
			}
			out = out[:len(out)-1]
		default:
			out = append(out, s)
		}
	}
	return out, nil
}

// ResolveRelative joins rel onto base, treating base as a directory.
// An absolute rel ("/x/y") replaces the path. The result keeps base's scheme,
// authority and inner address and has no query.
func ResolveRelative(base Address, rel string) (Address, error) {
	segments, err := splitEscaped(rel)
	if err != nil {
		return Address{}, fserr.NewMalformedAddress(rel, "invalid path escape")
	}
	if !strings.HasPrefix(rel, "/") {
		segments = append(base.Segments(), segments...)
	}
	return base.WithSegments(segments)
}

// RelativePathBetween returns the path that leads from "from" to "to", such
// that ResolveRelative(from, RelativePathBetween(from, to)) equals to.
// The result is "." when both are equal. Addresses on different roots have no
// relative path; the escaped absolute path of "to" is returned.
func RelativePathBetween(from, to Address) string {
	if !from.SameRoot(to) {
		return to.EscapedPath()
	}

	common := 0
	for common < len(from.segments) && common < len(to.segments) && from.segments[common] == to.segments[common] {
		common++
	}

	parts := make([]string, 0, len(from.segments)-common+len(to.segments)-common)
	for i := common; i < len(from.segments); i++ {
		parts = append(parts, "..")
	}
	for _, s := range to.segments[common:] {
		parts = append(parts, url.PathEscape(s))
	}
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func (a *Address) parseAuthority(auth string) error {
	if auth == "" {
		return nil
	}

	if userinfo, host, ok := cutLast(auth, "@"); ok {
		user, pass, _ := strings.Cut(userinfo, ":")
		var err error
		if a.user, err = url.PathUnescape(user); err != nil {
			return err
		}
		if a.password, err = url.PathUnescape(pass); err != nil {
			return err
		}
		auth = host
	}

	host := auth
	if i := strings.LastIndex(auth, ":"); i >= 0 && !strings.HasSuffix(auth, "]") {
		host = auth[:i]
		p, err := strconv.Atoi(auth[i+1:])
		if err != nil || p <= 0 || p > 65535 {
			return strconv.ErrRange
		}
		a.port = p
	}
	if strings.HasPrefix(host, "[") {
		ip, err := netip.ParseAddr(strings.TrimSuffix(host[1:], "]"))
		if err != nil || !ip.Is6() || !strings.HasSuffix(host, "]") {
			return errors.New("invalid IPv6 host")
		}
	}
	a.server = strings.ToLower(host)
	return nil
}

func splitEscaped(p string) ([]string, error) {
	raw := strings.Split(p, "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		d, err := url.PathUnescape(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// innerAddress looks for a bracketed inner URI at the start of rest and
// returns it decoded along with the index of its closing "]". An end of 0
// means rest starts with an authority instead. A bracket whose text is not a
// URI, such as "[::1]", is an IPv6 host.
func innerAddress(rest string) (string, int, error) {
	if !strings.HasPrefix(rest, "[") {
		return "", 0, nil
	}
	end := matchBracket(rest)
	if end < 0 {
		return "", 0, errors.New("unbalanced brackets")
	}
	inner := rest[1:end]
	if strings.Contains(inner, "://") {
		return inner, end, nil
	}
	decoded, err := url.PathUnescape(inner)
	if err != nil || !strings.Contains(decoded, "://") {
		if strings.Contains(inner, "%") {
			return "", 0, errors.New("inner address is not a URI")
		}
		return "", 0, nil
	}
	return decoded, end, nil
}

// matchBracket returns the index of the "]" matching the "[" at s[0].
func matchBracket(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}
