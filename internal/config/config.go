package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/batch-composer/pkg/types"
)

// Config holds the application configuration: output profiles plus the
// per-orientation grid layouts.
type Config struct {
	Outputs OutputsConfig           `json:"outputs"`
	Layouts map[string]LayoutConfig `json:"layouts"`
}

// OutputsConfig holds the profile list and the filename separator.
type OutputsConfig struct {
	Separator string          `json:"separator"`
	Profiles  []ProfileConfig `json:"profiles"`
}

// ProfileConfig is one output profile as stored on disk. Size is "WxH".
type ProfileConfig struct {
	Tag           string   `json:"tag"`
	Size          string   `json:"size"`
	Formats       []string `json:"formats"`
	Pad           string   `json:"pad,omitempty"`
	DisplayName   string   `json:"display_name,omitempty"`
	FileBase      string   `json:"file_base,omitempty"`
	GroupByFormat bool     `json:"group_by_format,omitempty"`
}

// LayoutConfig is the stored grid layout for one orientation.
type LayoutConfig struct {
	Gutter   int                            `json:"gutter"`
	BgColor  string                         `json:"bg_color"`
	Patterns map[string]types.LayoutPattern `json:"patterns"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Outputs: OutputsConfig{
			Separator: "_",
			Profiles: []ProfileConfig{
				{Tag: "web", Size: "1200x800", Formats: []string{"jpg"}},
				{Tag: "thumb", Size: "400x400", Formats: []string{"jpg", "png"}},
				{Tag: "layered", Size: "1200x1200", Formats: []string{"png", "psd"}},
			},
		},
		Layouts: map[string]LayoutConfig{
			"vertical": {
				Gutter:  10,
				BgColor: "#ffffff",
				Patterns: map[string]types.LayoutPattern{
					"2": {Rows: []int{1, 1}},
					"3": {Rows: []int{1, 2}},
					"4": {Rows: []int{1, 1, 2}},
				},
			},
			"horizontal": {
				Gutter:  10,
				BgColor: "#ffffff",
				Patterns: map[string]types.LayoutPattern{
					"2": {Rows: []int{2}},
					"3": {Rows: []int{3}},
					"4": {Rows: []int{2, 2}},
				},
			},
			"square": {
				Gutter:  10,
				BgColor: "#ffffff",
				Patterns: map[string]types.LayoutPattern{
					"2": {Rows: []int{2}},
					"4": {Rows: []int{2, 2}},
					"9": {Rows: []int{3, 3, 3}},
				},
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a JSON file.
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Outputs.Profiles) == 0 {
		return fmt.Errorf("outputs.profiles cannot be empty")
	}

	seen := map[string]struct{}{}
	for _, p := range c.Outputs.Profiles {
		if p.Tag == "" {
			return fmt.Errorf("profile tag cannot be empty")
		}
		if _, ok := seen[p.Tag]; ok {
			return fmt.Errorf("duplicate profile tag %q", p.Tag)
		}
		seen[p.Tag] = struct{}{}

		if _, _, err := parseSize(p.Size); err != nil {
			return fmt.Errorf("profile %q: %w", p.Tag, err)
		}
		if p.Pad != "" {
			if _, err := types.ParsePadColor(p.Pad); err != nil {
				return fmt.Errorf("profile %q: %w", p.Tag, err)
			}
		}
	}

	for orient, l := range c.Layouts {
		switch types.Orientation(orient) {
		case types.Vertical, types.Horizontal, types.Square:
		default:
			return fmt.Errorf("unknown layout orientation %q", orient)
		}
		if l.Gutter < 0 {
			return fmt.Errorf("layout %q: gutter must be non-negative", orient)
		}
		if l.BgColor != "" {
			if _, err := types.ParsePadColor(l.BgColor); err != nil {
				return fmt.Errorf("layout %q: %w", orient, err)
			}
		}
		for count, p := range l.Patterns {
			for _, cols := range p.Rows {
				if cols <= 0 {
					return fmt.Errorf("layout %q pattern %q: column counts must be positive", orient, count)
				}
			}
		}
	}

	return nil
}

// ProfileDefs converts the stored profiles into normalized pipeline
// profiles.
func (c *Config) ProfileDefs() ([]types.ProfileDef, error) {
	defs := make([]types.ProfileDef, 0, len(c.Outputs.Profiles))
	for _, p := range c.Outputs.Profiles {
		w, h, err := parseSize(p.Size)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Tag, err)
		}
		def := types.ProfileDef{
			Tag:           p.Tag,
			Width:         w,
			Height:        h,
			Formats:       p.Formats,
			DisplayName:   p.DisplayName,
			FileBase:      p.FileBase,
			GroupByFormat: p.GroupByFormat,
		}.Normalize()
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// SizeSpecs converts the stored profiles into the size specs used by the
// single-image crop path, one per profile.
func (c *Config) SizeSpecs() ([]types.SizeSpec, error) {
	specs := make([]types.SizeSpec, 0, len(c.Outputs.Profiles))
	for _, p := range c.Outputs.Profiles {
		w, h, err := parseSize(p.Size)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Tag, err)
		}
		pad, err := types.ParsePadColor(p.Pad)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Tag, err)
		}
		specs = append(specs, types.SizeSpec{Name: p.Tag, Width: w, Height: h, Pad: pad})
	}
	return specs, nil
}

// LayoutDefs converts the stored layouts into pipeline layout definitions.
func (c *Config) LayoutDefs() (map[types.Orientation]types.LayoutDefinition, error) {
	defs := make(map[types.Orientation]types.LayoutDefinition, len(c.Layouts))
	for orient, l := range c.Layouts {
		bg, err := types.ParsePadColor(l.BgColor)
		if err != nil {
			return nil, fmt.Errorf("layout %q: %w", orient, err)
		}
		defs[types.Orientation(orient)] = types.LayoutDefinition{
			Gutter:     l.Gutter,
			Background: bg,
			Patterns:   l.Patterns,
		}
	}
	return defs, nil
}

// Separator returns the configured filename separator, defaulting to "_".
func (c *Config) Separator() string {
	if c.Outputs.Separator == "" {
		return "_"
	}
	return c.Outputs.Separator
}

func parseSize(s string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("invalid size %q (want WxH): %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size %q must be positive", s)
	}
	return w, h, nil
}

// GetConfigPath returns the default configuration file path.
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./output_profiles.json"
	}
	return filepath.Join(home, ".config", "batch-composer", "output_profiles.json")
}
