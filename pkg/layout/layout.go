package layout

import (
	"math"
	"strconv"

	"github.com/menta2k/batch-composer/pkg/types"
)

// PatternFor returns the stored row pattern for n images, or the near-square
// fallback grid when the definition has no pattern for that count.
func PatternFor(def types.LayoutDefinition, n int) types.LayoutPattern {
	if p, ok := def.Patterns[strconv.Itoa(n)]; ok && p.Capacity() > 0 {
		return p
	}
	return FallbackGrid(n)
}

// FallbackGrid builds a near-square grid: cols = ceil(sqrt(n)),
// rows = ceil(n/cols), last row truncated to the leftover count.
func FallbackGrid(n int) types.LayoutPattern {
	if n <= 0 {
		return types.LayoutPattern{}
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rowCount := int(math.Ceil(float64(n) / float64(cols)))

	rows := make([]int, rowCount)
	for i := range rows {
		rows[i] = cols
	}
	if last := n - cols*(rowCount-1); last > 0 {
		rows[rowCount-1] = last
	}
	return types.LayoutPattern{Rows: rows}
}
