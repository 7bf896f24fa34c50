// Package sigil renders servitor sigils: input text is mapped to a point
// per character on a ringed canvas (a fixed witch-wheel layout or random
// placement), and consecutive points are connected by line segments inside
// an outer circle. Purely cosmetic; nothing feeds back into the lifecycle.
package sigil

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoValidChars is returned when the cleaned input text contains no
// drawable characters.
var ErrNoValidChars = errors.New("sigil: no valid characters in text")

// Positioning styles.
const (
	StyleWitchWheel = "witch_wheel"
	StyleRandom     = "random"
)

const defaultCanvasSize = 500

// charset is the drawable alphabet; everything else is stripped.
const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// witch wheel rings, innermost first.
var wheelRings = []string{
	"VWXYZ0123",
	"NOPQRSTU4567",
	"ABCDEFGHIJKLM89",
}

// Point is a 2D canvas coordinate.
type Point struct {
	X, Y float64
}

// Generator produces sigil geometry and rasters.
type Generator struct {
	canvasSize  int
	center      Point
	outerRadius float64
	radiusSteps [3]float64
	randFloat   func() float64
	randInt     func(n int) int
}

// New creates a Generator with the default 500px canvas.
func New() *Generator {
	return NewWithSize(defaultCanvasSize)
}

// NewWithSize creates a Generator for a square canvas of the given size.
func NewWithSize(size int) *Generator {
	half := float64(size) / 2
	outer := half - 10
	return &Generator{
		canvasSize:  size,
		center:      Point{X: half, Y: half},
		outerRadius: outer,
		radiusSteps: [3]float64{outer * 0.3, outer * 0.6, outer},
		randFloat:   rand.Float64,
		randInt:     rand.Intn,
	}
}

// clean uppercases the text, strips everything outside the charset, and
// optionally deduplicates while preserving first-occurrence order.
func clean(text string, uniqueChars bool) string {
	upper := strings.ToUpper(strings.ReplaceAll(text, " ", ""))
	var b strings.Builder
	seen := make(map[rune]bool)
	for _, r := range upper {
		if !strings.ContainsRune(charset, r) {
			continue
		}
		if uniqueChars {
			if seen[r] {
				continue
			}
			seen[r] = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// wheelMapping places each character at its fixed witch-wheel position:
// three concentric rings, each ring's characters spread evenly starting
// from the top.
func (g *Generator) wheelMapping() map[rune]Point {
	mapping := make(map[rune]Point)
	for ringIdx, ring := range wheelRings {
		increment := 2 * math.Pi / float64(len(ring))
		start := -math.Pi / 2
		for i, ch := range ring {
			angle := start + increment*float64(i)
			radius := g.radiusSteps[ringIdx]
			mapping[ch] = Point{
				X: g.center.X + radius*math.Cos(angle),
				Y: g.center.Y + radius*math.Sin(angle),
			}
		}
	}
	return mapping
}

// randomMapping places each character on a random ring at a random angle.
func (g *Generator) randomMapping() map[rune]Point {
	mapping := make(map[rune]Point)
	for _, ch := range charset {
		radius := g.radiusSteps[g.randInt(len(g.radiusSteps))]
		angle := g.randFloat() * 2 * math.Pi
		mapping[ch] = Point{
			X: g.center.X + radius*math.Cos(angle),
			Y: g.center.Y + radius*math.Sin(angle),
		}
	}
	return mapping
}

// Points maps the text onto the canvas and returns the ordered point
// sequence a sigil connects.
func (g *Generator) Points(text, style string, uniqueChars bool) ([]Point, error) {
	cleaned := clean(text, uniqueChars)
	if cleaned == "" {
		return nil, ErrNoValidChars
	}

	var mapping map[rune]Point
	if style == StyleRandom {
		mapping = g.randomMapping()
	} else {
		mapping = g.wheelMapping()
	}

	points := make([]Point, 0, len(cleaned))
	for _, ch := range cleaned {
		if p, ok := mapping[ch]; ok {
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil, ErrNoValidChars
	}
	return points, nil
}

// Generate renders the sigil for text to a PNG at path, creating parent
// directories as needed.
func (g *Generator) Generate(text, style, path string) error {
	points, err := g.Points(text, style, true)
	if err != nil {
		return err
	}

	img := image.NewRGBA(image.Rect(0, 0, g.canvasSize, g.canvasSize))
	white := color.RGBA{255, 255, 255, 255}
	black := color.RGBA{0, 0, 0, 255}
	for y := 0; y < g.canvasSize; y++ {
		for x := 0; x < g.canvasSize; x++ {
			img.Set(x, y, white)
		}
	}

	g.drawCircle(img, g.center, g.outerRadius, black)
	for i := 0; i < len(points)-1; i++ {
		g.drawLine(img, points[i], points[i+1], black)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// GenerateForServitor renders a sigil from the servitor's name and purpose
// into dir and returns the file path.
func (g *Generator) GenerateForServitor(name, purpose, style, dir string) (string, error) {
	path := filepath.Join(dir, SafeName(name)+"_sigil.png")
	if err := g.Generate(name+" "+purpose, style, path); err != nil {
		return "", err
	}
	return path, nil
}

// SafeName sanitizes a servitor name for use in a filename.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// drawLine rasterizes a 2px line segment between two points.
func (g *Generator) drawLine(img *image.RGBA, a, b Point, c color.RGBA) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	steps := int(math.Max(math.Abs(dx), math.Abs(dy)))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(a.X + dx*t))
		y := int(math.Round(a.Y + dy*t))
		setThick(img, x, y, c)
	}
}

// drawCircle rasterizes a 2px circle outline.
func (g *Generator) drawCircle(img *image.RGBA, center Point, radius float64, c color.RGBA) {
	circumference := 2 * math.Pi * radius
	steps := int(circumference) * 2
	for i := 0; i < steps; i++ {
		angle := 2 * math.Pi * float64(i) / float64(steps)
		x := int(math.Round(center.X + radius*math.Cos(angle)))
		y := int(math.Round(center.Y + radius*math.Sin(angle)))
		setThick(img, x, y, c)
	}
}

// setThick sets a 2x2 block so strokes render at width 2.
func setThick(img *image.RGBA, x, y int, c color.RGBA) {
	bounds := img.Bounds()
	for _, p := range [4][2]int{{x, y}, {x + 1, y}, {x, y + 1}, {x + 1, y + 1}} {
		if p[0] >= bounds.Min.X && p[0] < bounds.Max.X && p[1] >= bounds.Min.Y && p[1] < bounds.Max.Y {
			img.Set(p[0], p[1], c)
		}
	}
}
