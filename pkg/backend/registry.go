package backend

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// URL is a parsed backend connection target, e.g.
// valkey://localhost:6379/0 or dynamodb://fleetlock-locks?region=ap-northeast-1.
type URL struct {
	Scheme string
	Host   string
	Path   string
	Query  url.Values
	Raw    string
}

// ParseURL parses a backend URL string.
func ParseURL(raw string) (*URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("backend URL %q has no scheme", raw)
	}
	return &URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   u.Path,
		Query:  u.Query(),
		Raw:    raw,
	}, nil
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available under the given URL scheme.
// It panics on duplicate registration, mirroring database/sql semantics.
func Register(scheme string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("backend: Register driver is nil")
	}
	if _, dup := drivers[scheme]; dup {
		panic("backend: Register called twice for scheme " + scheme)
	}
	drivers[scheme] = d
}

// Schemes returns the sorted list of registered backend schemes.
func Schemes() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]string, 0, len(drivers))
	for s := range drivers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Connect parses rawURL, looks up the driver for its scheme and
// establishes a connection registered under memberID.
func Connect(ctx context.Context, rawURL, memberID string) (Conn, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	driversMu.RLock()
	d, ok := drivers[u.Scheme]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no backend driver registered for scheme %q (registered: %v)", u.Scheme, Schemes())
	}

	conn, err := d.Connect(ctx, u, memberID)
	if err != nil {
		return nil, fmt.Errorf("backend %s connect failed: %w", u.Scheme, err)
	}
	return conn, nil
}
