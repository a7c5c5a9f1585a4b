package geometry

import (
	"fmt"
	"sort"

	"github.com/spherical/pagetiles/internal/domain"
)

// DefaultLevels are the resolution multipliers used when none are configured.
var DefaultLevels = Levels{0.125, 0.25, 0.5, 1, 2, 4, 8}

// Levels is an ascending, non-empty list of supported LOD multipliers.
type Levels []float64

// NewLevels copies, sorts and de-duplicates the given multipliers.
func NewLevels(values []float64) (Levels, error) {
	if len(values) == 0 {
		return nil, domain.ValidationError("at least one LOD level is required", nil)
	}
	out := make(Levels, 0, len(values))
	for _, v := range values {
		if v <= 0 {
			return nil, domain.ValidationError(fmt.Sprintf("LOD level must be positive, got %g", v), nil)
		}
		out = append(out, v)
	}
	sort.Float64s(out)

	uniq := out[:1]
	for _, v := range out[1:] {
		if v != uniq[len(uniq)-1] {
			uniq = append(uniq, v)
		}
	}
	return uniq, nil
}

// Select returns the smallest level >= scale. Scales above the largest level
// clamp to the largest; scales at or below the smallest return the smallest.
func (l Levels) Select(scale float64) float64 {
	i := sort.SearchFloat64s(l, scale)
	if i >= len(l) {
		return l[len(l)-1]
	}
	return l[i]
}

// Min returns the lowest level.
func (l Levels) Min() float64 { return l[0] }

// Max returns the highest level.
func (l Levels) Max() float64 { return l[len(l)-1] }
