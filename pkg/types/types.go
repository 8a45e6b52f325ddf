package types

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"strings"
)

// Prediction is one candidate detection produced by a predictor backend.
// Box is in source-pixel space.
type Prediction struct {
	Box     BoundingBox `json:"box"`
	ClassID int         `json:"class_id"`
	Score   float64     `json:"score"`
}

// BoundingBox is an axis-aligned rectangle in source-image pixel coordinates.
type BoundingBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the area of the box in pixels.
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Left+b.Width, b.Top+b.Height)
}

// Clamp returns the box restricted to an imgW x imgH image. A box fully
// outside the image collapses to an empty box on the nearest edge.
func (b BoundingBox) Clamp(imgW, imgH int) BoundingBox {
	r := b.Rect().Intersect(image.Rect(0, 0, imgW, imgH))
	return BoundingBox{Left: r.Min.X, Top: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// PadKind selects how leftover canvas space is filled.
type PadKind int

const (
	PadWhite PadKind = iota
	PadTransparent
	PadRGB
)

// PadColor is the pad fill for a SizeSpec: white, transparent, or an
// explicit opaque RGB color.
type PadColor struct {
	Kind    PadKind
	R, G, B uint8
}

// White returns an opaque white pad.
func White() PadColor { return PadColor{Kind: PadWhite} }

// Transparent returns a fully transparent pad.
func Transparent() PadColor { return PadColor{Kind: PadTransparent} }

// RGB returns an opaque pad with the given color.
func RGB(r, g, b uint8) PadColor { return PadColor{Kind: PadRGB, R: r, G: g, B: b} }

// NRGBA resolves the pad to a concrete color. Transparent pads have zero
// alpha; everything else is opaque.
func (p PadColor) NRGBA() color.NRGBA {
	switch p.Kind {
	case PadTransparent:
		return color.NRGBA{}
	case PadRGB:
		return color.NRGBA{R: p.R, G: p.G, B: p.B, A: 255}
	default:
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
}

// MarshalJSON encodes the pad as "white", "transparent" or "#rrggbb".
func (p PadColor) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PadTransparent:
		return json.Marshal("transparent")
	case PadRGB:
		return json.Marshal(fmt.Sprintf("#%02x%02x%02x", p.R, p.G, p.B))
	default:
		return json.Marshal("white")
	}
}

// UnmarshalJSON accepts "white", "transparent" or a "#rrggbb" hex string.
func (p *PadColor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePadColor(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePadColor parses a pad color string as used in config files and
// worker messages.
func ParsePadColor(s string) (PadColor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "white":
		return White(), nil
	case "transparent":
		return Transparent(), nil
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(strings.ToLower(s), "#%02x%02x%02x", &r, &g, &b); err != nil {
		return PadColor{}, fmt.Errorf("invalid pad color %q: %w", s, err)
	}
	return RGB(r, g, b), nil
}

// SizeSpec describes one independent output bitmap of a crop request.
type SizeSpec struct {
	Name   string   `json:"name"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Pad    PadColor `json:"pad"`
}

// ComposeGroup is a set of images sharing one composed output grid.
// Images and Filenames are positionally coupled; Filenames feed layer
// naming in layered-document export.
type ComposeGroup struct {
	Name      string
	Images    []image.Image
	Filenames []string
}

// LayoutPattern lists the column count for each row, top to bottom.
type LayoutPattern struct {
	Rows []int `json:"rows"`
}

// Capacity is the number of cells the pattern provides.
func (p LayoutPattern) Capacity() int {
	n := 0
	for _, c := range p.Rows {
		n += c
	}
	return n
}

// Orientation keys which LayoutDefinition applies to a target canvas.
type Orientation string

const (
	Vertical   Orientation = "vertical"
	Horizontal Orientation = "horizontal"
	Square     Orientation = "square"
)

// OrientationFor picks the orientation of a target canvas size.
func OrientationFor(width, height int) Orientation {
	switch {
	case height > width:
		return Vertical
	case width > height:
		return Horizontal
	default:
		return Square
	}
}

// LayoutDefinition holds the grid parameters for one orientation.
// Patterns is keyed by image count rendered as a string.
type LayoutDefinition struct {
	Gutter     int                      `json:"gutter"`
	Background PadColor                 `json:"bg_color"`
	Patterns   map[string]LayoutPattern `json:"patterns"`
}

// ProfileDef is a named output specification applied uniformly across a
// batch. A profile with no formats is skipped entirely.
type ProfileDef struct {
	Tag           string   `json:"tag"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	Formats       []string `json:"formats"`
	DisplayName   string   `json:"display_name,omitempty"`
	FileBase      string   `json:"file_base,omitempty"`
	GroupByFormat bool     `json:"group_by_format,omitempty"`
}

// Recognized output formats.
const (
	FormatJPG  = "jpg"
	FormatPNG  = "png"
	FormatPSD  = "psd"
	FormatWebP = "webp"
)

// Normalize fills every optional ProfileDef field with its default so the
// pipeline never branches on field presence: DisplayName falls back to the
// tag, FileBase to the sanitized tag, formats are lower-cased and
// deduplicated.
func (p ProfileDef) Normalize() ProfileDef {
	out := p
	if out.DisplayName == "" {
		out.DisplayName = out.Tag
	}
	if out.FileBase == "" {
		out.FileBase = sanitizeFileBase(out.Tag)
	}
	seen := map[string]struct{}{}
	formats := make([]string, 0, len(out.Formats))
	for _, f := range out.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if f == "jpeg" {
			f = FormatJPG
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		formats = append(formats, f)
	}
	out.Formats = formats
	return out
}

// Validate reports malformed profile definitions.
func (p ProfileDef) Validate() error {
	if p.Tag == "" {
		return fmt.Errorf("%w: profile tag must not be empty", ErrInvalidRequest)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: profile %q target size %dx%d must be positive", ErrInvalidRequest, p.Tag, p.Width, p.Height)
	}
	for _, f := range p.Formats {
		switch f {
		case FormatJPG, FormatPNG, FormatPSD, FormatWebP:
		default:
			return fmt.Errorf("%w: profile %q has unknown format %q", ErrInvalidRequest, p.Tag, f)
		}
	}
	return nil
}

func sanitizeFileBase(name string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	out := name
	for _, ch := range invalid {
		out = strings.ReplaceAll(out, ch, "_")
	}
	return strings.Trim(out, " .")
}

// ComposeRequest crops one image into one output bitmap per SizeSpec.
type ComposeRequest struct {
	Image     image.Image
	BBox      BoundingBox
	Sizes     []SizeSpec
	ExportPSD bool
}

// Validate checks SizeSpec uniqueness and dimensions before any pixel work.
func (r ComposeRequest) Validate() error {
	if r.Image == nil {
		return fmt.Errorf("%w: missing image", ErrInvalidRequest)
	}
	if len(r.Sizes) == 0 {
		return fmt.Errorf("%w: no size specs", ErrInvalidRequest)
	}
	seen := map[string]struct{}{}
	for _, s := range r.Sizes {
		if s.Name == "" {
			return fmt.Errorf("%w: size spec with empty name", ErrInvalidRequest)
		}
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("%w: duplicate size spec name %q", ErrInvalidRequest, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("%w: size spec %q has non-positive dimensions %dx%d", ErrInvalidRequest, s.Name, s.Width, s.Height)
		}
	}
	return nil
}

// ComposeManyRequest composes every group with every profile.
type ComposeManyRequest struct {
	Groups   []ComposeGroup
	Profiles []ProfileDef
	Layouts  map[Orientation]LayoutDefinition
}

// Validate checks group array coupling and profile shapes before any work.
func (r ComposeManyRequest) Validate() error {
	for _, g := range r.Groups {
		if g.Name == "" {
			return fmt.Errorf("%w: group with empty name", ErrInvalidRequest)
		}
		if len(g.Images) != len(g.Filenames) {
			return fmt.Errorf("%w: group %q has %d images but %d filenames", ErrInvalidRequest, g.Name, len(g.Images), len(g.Filenames))
		}
	}
	for _, p := range r.Profiles {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// OutputRecord is one composed result of a ComposeManyRequest, one per
// (group, profile) pair with at least one requested format.
type OutputRecord struct {
	Filename      string
	Tag           string
	Bitmap        image.Image
	PNG           []byte
	JPEG          []byte
	WebP          []byte
	PSD           []byte
	Formats       []string
	GroupByFormat bool
}
