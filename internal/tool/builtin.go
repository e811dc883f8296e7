package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"crusty/internal/archive"
)

// ErrNoBuiltin is returned by Select when no function is registered for a
// builtin stage.
var ErrNoBuiltin = errors.New("no builtin registered")

// Func is an in-process tool. It receives the stage's positional arguments.
type Func func(ctx context.Context, args []string) error

// Builtin adapts a Func to Tool. A returned error becomes exit status 1.
type Builtin struct {
	Name string
	Fn   Func
}

// Run calls the function.
func (b Builtin) Run(ctx context.Context, args []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if err := b.Fn(ctx, args); err != nil {
		return 1, err
	}
	return 0, nil
}

// Registry maps builtin names to functions.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces name.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Lookup returns the builtin registered under name.
func (r *Registry) Lookup(name string) (Builtin, bool) {
	if r == nil {
		return Builtin{}, false
	}
	fn, ok := r.funcs[name]
	if !ok {
		return Builtin{}, false
	}
	return Builtin{Name: name, Fn: fn}, true
}

// Names lists registered builtins, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Names of the archive builtins.
const (
	BuiltinUnzip = "unzip"
	BuiltinStrip = "strip"
)

// DefaultRegistry holds the archive builtins used by the terminal stages:
//
//	unzip <archive> <dest dir> <prefix>
//	strip <archive> <dest archive> <prefix>
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(BuiltinUnzip, func(_ context.Context, args []string) error {
		if len(args) != 3 {
			return fmt.Errorf("unzip: want 3 arguments, got %d", len(args))
		}
		_, err := archive.Unzip(args[0], args[1], archive.HasPrefix(args[2]))
		return err
	})
	r.Register(BuiltinStrip, func(_ context.Context, args []string) error {
		if len(args) != 3 {
			return fmt.Errorf("strip: want 3 arguments, got %d", len(args))
		}
		_, err := archive.Strip(args[0], args[1], archive.HasPrefix(args[2]))
		return err
	})
	return r
}
