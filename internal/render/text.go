package render

import (
	"fmt"
	"strings"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/rotisserie/eris"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/shelter-access/internal/model"
)

const colorbarLabel = "Average transit time, in minutes"

func loadFont() (*opentype.Font, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, eris.Wrap(err, "render: parse font")
	}
	return f, nil
}

func (r *Renderer) face(size float64) (font.Face, error) {
	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     float64(r.cfg.DPI),
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, eris.Wrap(err, "render: create font face")
	}
	return face, nil
}

// Title describes the mode and N of a result.
func Title(res *model.Result) string {
	closest := "closest shelter"
	if res.NClosest > 1 {
		closest = fmt.Sprintf("%d closest shelters", res.NClosest)
	}
	return fmt.Sprintf("Relationships between block groups and the %s; mode of transit = %s", closest, res.Mode)
}

// Subtitle names the exclusion zones, or is empty when none were applied.
func Subtitle(res *model.Result) string {
	if len(res.ExcludedZones) == 0 {
		return ""
	}
	caser := cases.Title(language.English)
	names := make([]string, len(res.ExcludedZones))
	for i, z := range res.ExcludedZones {
		names[i] = caser.String(z)
	}
	return "Shelters in " + strings.Join(names, ", ") + " excluded"
}

func (r *Renderer) drawTitle(dc *gg.Context, v viewport, res *model.Result) error {
	face, err := r.face(r.cfg.TitleFontSize)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	lineHeight := r.pt(r.cfg.TitleFontSize) * 1.4
	dc.DrawStringAnchored(Title(res), v.x+v.w/2, v.y-lineHeight*1.5, 0.5, 0.5)

	if sub := Subtitle(res); sub != "" {
		small, err := r.face(r.cfg.TitleFontSize * 0.8)
		if err != nil {
			return err
		}
		dc.SetFontFace(small)
		dc.SetRGB(0.3, 0.3, 0.3)
		dc.DrawStringAnchored(sub, v.x+v.w/2, v.y-lineHeight*0.6, 0.5, 0.5)
	}
	return nil
}

// ticks returns n evenly spaced values across the scale.
func ticks(s Scale, n int) []float64 {
	if s.Max <= s.Min || n < 2 {
		return []float64{s.Min}
	}
	out := make([]float64, n)
	step := (s.Max - s.Min) / float64(n-1)
	for i := range out {
		out[i] = s.Min + float64(i)*step
	}
	return out
}

func tickLabel(v, span float64) string {
	if span >= 10 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

func (r *Renderer) drawColorbar(dc *gg.Context, v viewport, s Scale) error {
	x := v.x + v.w + r.inches(0.2)
	barW := r.inches(0.15)
	top, h := v.y, v.h

	const steps = 256
	for i := range steps {
		t := 1 - (float64(i)+0.5)/steps
		c := r.gradient.At(t)
		dc.DrawRectangle(x, top+float64(i)*h/steps, barW, h/steps+1)
		dc.SetColor(c)
		dc.Fill()
	}
	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(r.pt(0.5))
	dc.DrawRectangle(x, top, barW, h)
	dc.Stroke()

	face, err := r.face(r.cfg.TitleFontSize * 0.8)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)

	var labelW float64
	for _, val := range ticks(s, 5) {
		y := top + h*(1-s.Normalize(val))
		dc.DrawLine(x+barW, y, x+barW+r.pt(3), y)
		dc.Stroke()
		label := tickLabel(val, s.Max-s.Min)
		w, _ := dc.MeasureString(label)
		labelW = max(labelW, w)
		dc.DrawStringAnchored(label, x+barW+r.pt(5), y, 0, 0.35)
	}

	lx := x + barW + r.pt(8) + labelW + r.pt(r.cfg.TitleFontSize)
	dc.Push()
	dc.RotateAbout(gg.Radians(90), lx, top+h/2)
	dc.DrawStringAnchored(colorbarLabel, lx, top+h/2, 0.5, 0.5)
	dc.Pop()
	return nil
}

type legendEntry struct {
	label string
	color colorful.Color
	patch bool
}

// legendEntries lists the legend rows. The unsafe-shelter row only appears
// when some shelter was excluded.
func legendEntries(res *model.Result, p palette) []legendEntry {
	var entries []legendEntry
	if len(res.Excluded) > 0 {
		entries = append(entries, legendEntry{label: "Unsafe shelter", color: p.excluded})
	}
	return append(entries,
		legendEntry{label: "Shelter", color: p.shelter},
		legendEntry{label: "No easy access to shelters", color: p.inaccessible, patch: true},
	)
}

func (r *Renderer) drawLegend(dc *gg.Context, v viewport, entries []legendEntry) error {
	face, err := r.face(r.cfg.TitleFontSize * 0.8)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)

	marker := r.pt(legendMarkerSize)
	pad := r.pt(4)
	row := marker * 1.6
	var textW float64
	for _, e := range entries {
		w, _ := dc.MeasureString(e.label)
		textW = max(textW, w)
	}
	boxW := pad*3 + marker + textW
	boxH := pad*2 + row*float64(len(entries))
	bx := v.x + v.w - boxW - pad
	by := v.y + v.h - boxH - pad

	dc.DrawRoundedRectangle(bx, by, boxW, boxH, pad/2)
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.FillPreserve()
	dc.SetRGB(0.8, 0.8, 0.8)
	dc.SetLineWidth(r.pt(0.5))
	dc.Stroke()

	for i, e := range entries {
		cy := by + pad + row*(float64(i)+0.5)
		cx := bx + pad + marker/2
		if e.patch {
			dc.DrawRectangle(cx-marker/2, cy-marker/3, marker, marker*2/3)
		} else {
			dc.DrawCircle(cx, cy, marker/2)
		}
		dc.SetColor(e.color)
		dc.Fill()

		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(e.label, cx+marker/2+pad, cy, 0, 0.35)
	}
	return nil
}
