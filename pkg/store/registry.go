package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/isearch/isearch/pkg/storage"
)

// Registry owns all open stores under one FileStore root. Stores are opened
// lazily on first use and stay open until Drop or Close. There is exactly
// one Registry per server process; it is the single writer for every store
// it owns.
type Registry struct {
	fs   storage.FileStore
	opts Options

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates a Registry over fs. opts supplies the defaults for
// every store it opens or creates.
func NewRegistry(fs storage.FileStore, opts Options) *Registry {
	opts.setDefaults()
	return &Registry{
		fs:     fs,
		opts:   opts,
		stores: make(map[string]*Store),
	}
}

// validName rejects names that would escape the root or collide with the
// snapshot file layout.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty store name", ErrArgument)
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid store name %q", ErrArgument, name)
	}
	return nil
}

// Get returns the named store, opening or creating it on first use.
func (r *Registry) Get(ctx context.Context, name string) (*Store, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s, nil
	}
	s, err := Open(ctx, r.fs, name, r.opts)
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	return s, nil
}

// List returns the names of all stores present on disk, open or not.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	return List(ctx, r.fs)
}

// Drop closes the named store if open and removes its files.
func (r *Registry) Drop(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.stores, name)
	return Drop(ctx, r.fs, name)
}

// Flush persists every open store.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, s := range r.stores {
		if err := s.Save(ctx); err != nil {
			return fmt.Errorf("store: flush %s: %w", name, err)
		}
	}
	return nil
}

// Close flushes and forgets every open store.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, s := range r.stores {
		if err := s.Save(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store: close %s: %w", name, err)
		}
		delete(r.stores, name)
	}
	return firstErr
}
