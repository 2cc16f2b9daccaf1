package catalogue

import (
	"gonum.org/v1/plot/palette"

	"github.com/egaudrain/tridesclous/internal/catalogue/labels"
)

// RefreshColors assigns evenly spaced hues to positive clusters that have
// no color yet (to all of them when reset) and fixed greys to the reserved
// labels.
func (c *Constructor) RefreshColors(reset bool) {
	if reset || c.colors == nil {
		c.colors = map[int64]Color{}
	}
	positive := c.PositiveClusterLabels()
	hues := clusterPalette(len(positive))
	for i, k := range positive {
		if _, ok := c.colors[k]; !ok {
			c.colors[k] = hues[i]
		}
	}
	c.colors[labels.Trash] = Color{.4, .4, .4}
	c.colors[labels.Unclassified] = Color{.6, .6, .6}
	c.colors[labels.Noise] = Color{.8, .8, .8}
}

// Colors returns a copy of the label colors.
func (c *Constructor) Colors() map[int64]Color {
	out := make(map[int64]Color, len(c.colors))
	for k, v := range c.colors {
		out[k] = v
	}
	return out
}

// clusterPalette returns n opaque colors with hues evenly spread over
// [0, 1), so the last one never wraps back onto the first.
func clusterPalette(n int) []Color {
	if n == 0 {
		return nil
	}
	end := float64(n-1) / float64(n)
	rainbow := palette.Rainbow(n, 0, palette.Hue(end), 0.65, 0.9, 1).Colors()
	out := make([]Color, len(rainbow))
	for i, col := range rainbow {
		r, g, b, _ := col.RGBA()
		out[i] = Color{R: float64(r) / 0xffff, G: float64(g) / 0xffff, B: float64(b) / 0xffff}
	}
	return out
}
