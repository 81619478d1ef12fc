// Package fetchcache caches assembled per-source results keyed by a
// composite signature, so repeated requests for the same subject and
// window skip the external fetch fan-out entirely.
package fetchcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Key is the composite cache signature. Results are only reusable when
// the subject, the window and the resolved repository set all match;
// there is no partial reuse across differing repository sets.
type Key struct {
	Subject string
	Window  string
	RepoSet string
}

// String renders the key in its canonical storage form.
func (k Key) String() string {
	return k.Subject + "|" + k.Window + "|" + k.RepoSet
}

// RepoFingerprint condenses a repository set to an order-insensitive
// fingerprint.
func RepoFingerprint(repos []string) string {
	if len(repos) == 0 {
		return "none"
	}
	sorted := make([]string, len(repos))
	for i, repo := range repos {
		sorted[i] = strings.ToLower(strings.TrimSpace(repo))
	}
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:8])
}

// IndividualSubject builds the subject component for a developer.
func IndividualSubject(name string) string {
	return "individual:" + strings.ToLower(strings.TrimSpace(name))
}

// TeamSubject builds the subject component for a team.
func TeamSubject(teamID string) string {
	return "team:" + strings.TrimSpace(teamID)
}

// Cache stores serialized fetch results. A miss is (nil, false, nil);
// errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Set(ctx context.Context, key Key, payload []byte) error
}

// KeyedLocks serializes writers per cache key so concurrent requests
// for the same signature do not duplicate the external fetch fan-out.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocks creates an empty lock table.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns its release func.
func (l *KeyedLocks) Lock(key Key) func() {
	id := key.String()

	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// BackendFromName validates a configured backend name.
func BackendFromName(name string) (string, error) {
	switch name {
	case "", "memory":
		return "memory", nil
	case "redis":
		return "redis", nil
	}
	return "", fmt.Errorf("unknown cache backend %q", name)
}
