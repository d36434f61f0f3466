package bind

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sync/singleflight"
)

var keyEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bind: failed to create CBOR enc mode: %v", err))
	}
	keyEncMode = em
}

// State is the resolution state of an entrypoint.
type State int

const (
	Unresolved State = iota
	Resolved
	Bound
	Missing
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolved:
		return "resolved"
	case Bound:
		return "bound"
	case Missing:
		return "missing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Entry is the cached trampoline of one (source, entrypoint, descriptor,
// options) combination. Entries are shared by every signature that reduces
// to the same combination.
type Entry struct {
	Entrypoint string
	Descriptor *layout.FunctionDescriptor
	Address    memory.Address
	Trampoline linker.Handle // nil when Missing
	Options    linker.Options
	State      State
}

// Transform wraps every resolved handle before it is cached.
type Transform func(entrypoint string, h linker.Handle) (linker.Handle, error)

// Registry caches descriptors and trampolines. It is safe for concurrent use.
type Registry struct {
	transform Transform

	mu          sync.RWMutex
	entries     map[string]*Entry
	descriptors map[string]*layout.FunctionDescriptor
	group       singleflight.Group
}

// Default returns the process-wide registry, created on first use.
var Default = sync.OnceValue(func() *Registry { return NewRegistry(nil) })

// NewRegistry returns an empty registry. transform may be nil.
func NewRegistry(transform Transform) *Registry {
	return &Registry{
		transform:   transform,
		entries:     make(map[string]*Entry),
		descriptors: make(map[string]*layout.FunctionDescriptor),
	}
}

// Intern returns the registry's canonical instance of fd.
func (r *Registry) Intern(fd layout.FunctionDescriptor) *layout.FunctionDescriptor {
	key := fd.String()

	r.mu.RLock()
	d, ok := r.descriptors[key]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.descriptors[key]; ok {
		return d
	}
	d = &fd
	r.descriptors[key] = d
	return d
}

type entryKey struct {
	_          struct{} `cbor:",toarray"`
	Source     string
	Linker     string
	Entrypoint string
	Descriptor string
	Critical   bool
	HeapAccess bool
}

// identity names a value by dynamic type and, for pointers, address, so two
// sources with the same name never share entries. Stateless value linkers
// such as linker.Native are keyed by type alone.
func identity(v any) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		return fmt.Sprintf("%T@%x", v, rv.Pointer())
	}
	return fmt.Sprintf("%T", v)
}

func cacheKey(src linker.SymbolSource, lnk linker.Linker, entrypoint string, fd layout.FunctionDescriptor, opts linker.Options) (string, error) {
	if src == nil || reflect.ValueOf(src).Kind() != reflect.Pointer {
		return "", fmt.Errorf("symbol source %T must be a pointer", src)
	}
	b, err := keyEncMode.Marshal(entryKey{
		Source:     src.Name() + "#" + identity(src),
		Linker:     identity(lnk),
		Entrypoint: entrypoint,
		Descriptor: fd.String(),
		Critical:   opts.Critical,
		HeapAccess: opts.AllowHeapAccess,
	})
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", entrypoint, err)
	}
	return string(b), nil
}

// GetOrBuild returns the entry for entrypoint, resolving and binding it on
// first use. Concurrent callers for the same key converge on one entry. A
// symbol that cannot be found yields a Missing entry, not an error.
func (r *Registry) GetOrBuild(src linker.SymbolSource, lnk linker.Linker, entrypoint string, fd layout.FunctionDescriptor, opts linker.Options) (*Entry, error) {
	key, err := cacheKey(src, lnk, entrypoint, fd, opts)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		log.Debugf("cache hit: %s %s", entrypoint, e.Descriptor)
		return e, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		e, ok := r.entries[key]
		r.mu.RUnlock()
		if ok {
			return e, nil
		}

		e, err := r.build(src, lnk, entrypoint, fd, opts)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.entries[key]; ok {
			return existing, nil
		}
		r.entries[key] = e
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (r *Registry) build(src linker.SymbolSource, lnk linker.Linker, entrypoint string, fd layout.FunctionDescriptor, opts linker.Options) (*Entry, error) {
	e := &Entry{
		Entrypoint: entrypoint,
		Descriptor: r.Intern(fd),
		Options:    opts,
		State:      Unresolved,
	}

	addr, ok := src.Find(entrypoint)
	if !ok {
		e.State = Missing
		log.Debugf("%s: %s not found", src.Name(), entrypoint)
		return e, nil
	}
	e.Address = addr
	e.State = Resolved

	h, err := lnk.Downcall(addr, *e.Descriptor, opts)
	if err != nil {
		return nil, fmt.Errorf("bind %s %s: %w", entrypoint, e.Descriptor, err)
	}
	if r.transform != nil {
		if h, err = r.transform(entrypoint, h); err != nil {
			return nil, fmt.Errorf("transform %s: %w", entrypoint, err)
		}
	}
	e.Trampoline = h
	e.State = Bound
	log.Debugf("bound %s %s at 0x%x (%s)", entrypoint, e.Descriptor, uintptr(addr), opts)
	return e, nil
}

// Len returns the number of cached entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns every cached entry, ordered by entrypoint.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Entrypoint != out[j].Entrypoint {
			return out[i].Entrypoint < out[j].Entrypoint
		}
		return out[i].Descriptor.String() < out[j].Descriptor.String()
	})
	return out
}
