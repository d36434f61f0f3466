package bind

import "sync"

// NativeEnum is a host enum value with a native integer representation.
type NativeEnum interface {
	Value() int64
}

// EnumType maps native integers back to host enum values.
type EnumType struct {
	Name string
	Wrap func(v int64) (any, error)
}

var enums = struct {
	sync.RWMutex
	byName map[string]*EnumType
}{byName: make(map[string]*EnumType)}

// RegisterEnum adds t to the process-wide enum table, replacing any type of
// the same name.
func RegisterEnum(t *EnumType) {
	enums.Lock()
	defer enums.Unlock()
	enums.byName[t.Name] = t
}

// LookupEnum returns the registered enum type called name.
func LookupEnum(name string) (*EnumType, bool) {
	enums.RLock()
	defer enums.RUnlock()
	t, ok := enums.byName[name]
	return t, ok
}
