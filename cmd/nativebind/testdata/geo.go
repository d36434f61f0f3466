package testdata

import "github.com/alexhholmes/nativebind/memory"

// @struct
type Vec struct {
	X float64
	Y float64
}

// @callback
type Filter func(v *Vec) bool

// @native target=Geo
type Geometry struct {
	Norm  func(v *Vec) float64                                `native:"vec_norm,critical"`
	Scale func(alloc memory.Allocator, v *Vec, k float64) Vec `native:"vec_scale"`
	Count func(arena memory.Arena, vs *Vec, n int32, f Filter) int32
	Label func(v *Vec) string `native:"vec_label,optional"`
}

// @native target=Other
type Other struct {
	Ping func() int32 `native:"ping"`
}
