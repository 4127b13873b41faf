package export

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/canvas/internal/room"
)

const (
	margin   = 10.0
	minWidth = 0.1
	maxScale = 1.0
)

type rgb struct{ r, g, b int }

var (
	black = rgb{0, 0, 0}
	white = rgb{255, 255, 255}
)

// ParseColor reads #rgb and #rrggbb. Anything else comes back black.
func ParseColor(s string) (r, g, b int) {
	c := parseColor(s)
	return c.r, c.g, c.b
}

func parseColor(s string) rgb {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return black
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return black
	}
	return rgb{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}
}

type bounds struct {
	minX, minY, maxX, maxY float64
}

func boundsOf(strokes []room.Stroke) (bounds, bool) {
	b := bounds{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	found := false
	for _, s := range strokes {
		pad := s.Size / 2
		for _, p := range s.Points {
			b.minX = math.Min(b.minX, p.X-pad)
			b.minY = math.Min(b.minY, p.Y-pad)
			b.maxX = math.Max(b.maxX, p.X+pad)
			b.maxY = math.Max(b.maxY, p.Y+pad)
			found = true
		}
	}
	return b, found
}

// Render draws the strokes onto one landscape A4 page, scaled to fit, and
// writes the PDF to w. Erasers paint white, as they do on the canvas.
func Render(w io.Writer, title string, strokes []room.Stroke) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("canvas", true)
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	if b, ok := boundsOf(strokes); ok {
		pageW, pageH := pdf.GetPageSize()
		width := math.Max(b.maxX-b.minX, 1)
		height := math.Max(b.maxY-b.minY, 1)
		scale := math.Min((pageW-2*margin)/width, (pageH-2*margin)/height)
		scale = math.Min(scale, maxScale)

		x := func(v float64) float64 { return margin + (v-b.minX)*scale }
		y := func(v float64) float64 { return margin + (v-b.minY)*scale }

		for _, s := range strokes {
			c := parseColor(s.Color)
			if s.Tool == room.ToolEraser {
				c = white
			}
			pdf.SetDrawColor(c.r, c.g, c.b)
			pdf.SetFillColor(c.r, c.g, c.b)
			lw := math.Max(s.Size*scale, minWidth)
			pdf.SetLineWidth(lw)

			if len(s.Points) == 1 {
				pdf.Circle(x(s.Points[0].X), y(s.Points[0].Y), lw/2, "F")
				continue
			}
			for i := 1; i < len(s.Points); i++ {
				pdf.Line(
					x(s.Points[i-1].X), y(s.Points[i-1].Y),
					x(s.Points[i].X), y(s.Points[i].Y),
				)
			}
		}
	}

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "render pdf")
	}
	return nil
}
