package render

import (
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/rotisserie/eris"
)

// Gradient is a continuous colour scale through evenly spaced keypoints.
type Gradient []colorful.Color

// ParseGradient builds a gradient from hex colours, low values first.
func ParseGradient(hexes []string) (Gradient, error) {
	if len(hexes) < 2 {
		return nil, eris.Errorf("render: gradient needs at least 2 colours, got %d", len(hexes))
	}
	g := make(Gradient, len(hexes))
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, eris.Wrapf(err, "render: colour %q", h)
		}
		g[i] = c
	}
	return g, nil
}

// At returns the colour at t in [0, 1], blending linearly in RGB between the
// surrounding keypoints. t is clamped.
func (g Gradient) At(t float64) colorful.Color {
	t = clamp01(t)
	pos := t * float64(len(g)-1)
	i := int(pos)
	if i >= len(g)-1 {
		return g[len(g)-1]
	}
	return g[i].BlendRgb(g[i+1], pos-float64(i)).Clamped()
}

// Scale maps a value range onto [0, 1].
type Scale struct {
	Min, Max float64
}

// Normalize returns where v falls in the range. A degenerate range puts every
// value at the midpoint.
func (s Scale) Normalize(v float64) float64 {
	span := s.Max - s.Min
	if span <= 0 {
		return 0.5
	}
	return clamp01((v - s.Min) / span)
}

func clamp01(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
