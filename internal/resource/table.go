package resource

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrNotFound is returned for handles that are not in the table.
	ErrNotFound = errors.New("resource not found")
	// ErrBadResource is returned when a handle names a resource of another type.
	ErrBadResource = errors.New("resource has unexpected type")
)

// Handle identifies a resource within one Table. Zero is never allocated.
type Handle uint32

// Resource is anything a Table can own.
type Resource interface {
	// Name is a short kind label such as "fetch" or "response".
	Name() string
	Close() error
}

// Observer is notified when resources enter and leave a table.
type Observer interface {
	ResourceOpened(kind string)
	ResourceClosed(kind string)
}

// Table maps handles to live resources.
type Table struct {
	mu        sync.Mutex
	next      Handle
	resources map[Handle]Resource
	observer  Observer
}

// Option configures a Table.
type Option func(*Table)

// WithObserver reports table membership changes to o.
func WithObserver(o Observer) Option {
	return func(t *Table) {
		t.observer = o
	}
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		resources: make(map[Handle]Resource),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add inserts r and returns its handle.
func (t *Table) Add(r Resource) Handle {
	t.mu.Lock()
	h := t.allocate()
	t.resources[h] = r
	t.mu.Unlock()

	if t.observer != nil {
		t.observer.ResourceOpened(r.Name())
	}
	return h
}

// allocate returns the next free handle. Caller holds t.mu.
func (t *Table) allocate() Handle {
	for {
		if t.next == math.MaxUint32 {
			t.next = 0
		}
		t.next++
		if _, live := t.resources[t.next]; !live {
			return t.next
		}
	}
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resources)
}

// Has reports whether h names a live resource.
func (t *Table) Has(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.resources[h]
	return ok
}

func (t *Table) lookup(h Handle) (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.resources[h]
	return r, ok
}

func (t *Table) remove(h Handle) (Resource, bool) {
	t.mu.Lock()
	r, ok := t.resources[h]
	if ok {
		delete(t.resources, h)
	}
	t.mu.Unlock()

	if ok && t.observer != nil {
		t.observer.ResourceClosed(r.Name())
	}
	return r, ok
}

// Get returns the resource at h without removing it.
func Get[T Resource](t *Table, h Handle) (T, error) {
	var zero T
	r, ok := t.lookup(h)
	if !ok {
		return zero, fmt.Errorf("handle %d: %w", h, ErrNotFound)
	}
	typed, ok := r.(T)
	if !ok {
		return zero, fmt.Errorf("handle %d is %s: %w", h, r.Name(), ErrBadResource)
	}
	return typed, nil
}

// Take removes the resource at h and hands ownership to the caller. A
// resource of the wrong type stays in the table.
func Take[T Resource](t *Table, h Handle) (T, error) {
	var zero T

	t.mu.Lock()
	r, ok := t.resources[h]
	if !ok {
		t.mu.Unlock()
		return zero, fmt.Errorf("handle %d: %w", h, ErrNotFound)
	}
	typed, ok := r.(T)
	if !ok {
		t.mu.Unlock()
		return zero, fmt.Errorf("handle %d is %s: %w", h, r.Name(), ErrBadResource)
	}
	delete(t.resources, h)
	t.mu.Unlock()

	if t.observer != nil {
		t.observer.ResourceClosed(r.Name())
	}
	return typed, nil
}

// Close removes the resource at h and closes it.
func (t *Table) Close(h Handle) error {
	r, ok := t.remove(h)
	if !ok {
		return fmt.Errorf("handle %d: %w", h, ErrNotFound)
	}
	if err := r.Close(); err != nil {
		return fmt.Errorf("close %s %d: %w", r.Name(), h, err)
	}
	return nil
}

// CloseAll empties the table and closes every resource it held.
func (t *Table) CloseAll() error {
	t.mu.Lock()
	resources := t.resources
	t.resources = make(map[Handle]Resource)
	t.mu.Unlock()

	var result *multierror.Error
	for h, r := range resources {
		if t.observer != nil {
			t.observer.ResourceClosed(r.Name())
		}
		if err := r.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s %d: %w", r.Name(), h, err))
		}
	}
	return result.ErrorOrNil()
}
