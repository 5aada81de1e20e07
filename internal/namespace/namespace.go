// Package namespace tracks the logical groupings that queues live under.
//
// A namespace (e.g. "payments", "billing") scopes queue names: two namespaces
// can each hold a queue called "orders" without collision. The registry keeps
// namespace metadata in memory and mirrors it to a JSON file under the data
// directory so registrations survive restarts; queue records themselves are
// owned by the queue registry, never by this package.
//
// The same naming rule applies to namespaces and queue names, so ValidName is
// exported for the broker to reuse.
package namespace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

// nameRe: 1-64 chars, lowercase letters, digits, hyphens and underscores,
// starting with a letter or digit. Underscores are allowed so internal queue
// names like "__dlq__orders" pass the same queue-name check minus the prefix.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)

var (
	// ErrNotFound is returned when the requested namespace is not registered.
	ErrNotFound = errors.New("namespace: not found")
	// ErrAlreadyExists is returned by Create for a taken name.
	ErrAlreadyExists = errors.New("namespace: already exists")
	// ErrInvalidName is returned when a name fails validation.
	ErrInvalidName = errors.New("namespace: invalid name")
)

// ValidName reports whether name is acceptable as a namespace or queue name.
func ValidName(name string) bool { return nameRe.MatchString(name) }

// Namespace is the metadata kept per registration.
type Namespace struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the in-memory view of the namespace file. All methods are safe
// for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	set  map[string]Namespace
	path string
}

// New loads the registry from dataDir/namespaces.json, starting empty when no
// file exists yet.
func New(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("namespace: create data dir: %w", err)
	}
	r := &Registry{
		set:  make(map[string]Namespace),
		path: filepath.Join(dataDir, "namespaces.json"),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Create registers name, failing with ErrAlreadyExists when taken.
func (r *Registry) Create(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	r.set[name] = Namespace{Name: name, CreatedAt: time.Now().UTC()}
	return r.save()
}

// Ensure registers name if absent; registering an existing name is a no-op.
// This backs implicit creation on first queue use.
func (r *Registry) Ensure(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[name]; ok {
		return nil
	}
	r.set[name] = Namespace{Name: name, CreatedAt: time.Now().UTC()}
	return r.save()
}

// Delete removes the registration for name. The caller must have deleted the
// namespace's queues first; this registry has no way to check.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.set, name)
	return r.save()
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[name]
	return ok
}

// Get returns the metadata for name, or ErrNotFound.
func (r *Registry) Get(name string) (Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.set[name]
	if !ok {
		return Namespace{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ns, nil
}

// List returns all registrations sorted by name.
func (r *Registry) List() []Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Namespace, 0, len(r.set))
	for _, ns := range r.set {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered namespaces.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.set)
}

// ─── persistence ─────────────────────────────────────────────────────────────

type diskFile struct {
	Version    int         `json:"version"`
	Namespaces []Namespace `json:"namespaces"`
}

const diskVersion = 1

// load reads the namespace file. A missing file means a fresh data dir.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("namespace: read %s: %w", r.path, err)
	}

	var f diskFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("namespace: parse %s: %w", r.path, err)
	}
	if f.Version != diskVersion {
		return fmt.Errorf("namespace: %s: unsupported version %d", r.path, f.Version)
	}
	for _, ns := range f.Namespaces {
		r.set[ns.Name] = ns
	}
	return nil
}

// save writes the file atomically: temp file in the same directory, then
// rename. Called with mu held.
func (r *Registry) save() error {
	list := make([]Namespace, 0, len(r.set))
	for _, ns := range r.set {
		list = append(list, ns)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	data, err := json.MarshalIndent(diskFile{Version: diskVersion, Namespaces: list}, "", "  ")
	if err != nil {
		return fmt.Errorf("namespace: marshal: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("namespace: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("namespace: rename to %s: %w", r.path, err)
	}
	return nil
}
