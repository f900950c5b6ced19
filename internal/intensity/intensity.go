// Package intensity converts 0-100 content sliders into escalating prompt
// instructions.
//
// Each dimension has ten ordered bands. A level selects the first band whose
// max is >= level; how far the level sits inside that band decides how many
// of the band's modifiers are appended. Crossing a band boundary changes the
// base phrase, so 81 reads differently from 80.
package intensity

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed tiers.yaml
var defaultTiers []byte

var (
	// ErrUnknownDimension is returned for dimensions missing from the table.
	ErrUnknownDimension = errors.New("unknown intensity dimension")

	// ErrInvalidTable is returned when tier data breaks the band invariants.
	ErrInvalidTable = errors.New("invalid intensity table")
)

// Band is one tier of a dimension.
type Band struct {
	Max       int      `yaml:"max"`
	Base      string   `yaml:"base"`
	Modifiers []string `yaml:"modifiers"`
}

// Dimension is an ordered band list for one slider.
type Dimension struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
	Bands []Band `yaml:"bands"`
}

// Instruction is a resolved level.
type Instruction struct {
	Dimension string
	Label     string
	Level     int
	Band      int // index into Dimension.Bands
	Base      string
	Modifiers []string
}

// Text renders the base phrase followed by the active modifiers.
func (i Instruction) Text() string {
	if len(i.Modifiers) == 0 {
		return i.Base
	}
	return i.Base + "; " + strings.Join(i.Modifiers, "; ")
}

// Table is an immutable set of dimensions loaded once.
type Table struct {
	dims  map[string]*Dimension
	order []string
}

// Load parses and validates YAML tier data.
func Load(data []byte) (*Table, error) {
	var doc struct {
		Dimensions []Dimension `yaml:"dimensions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(doc.Dimensions) == 0 {
		return nil, fmt.Errorf("%w: no dimensions", ErrInvalidTable)
	}

	t := &Table{dims: make(map[string]*Dimension, len(doc.Dimensions))}
	for i := range doc.Dimensions {
		d := &doc.Dimensions[i]
		if err := validate(d); err != nil {
			return nil, err
		}
		key := normalizeKey(d.Key)
		if _, dup := t.dims[key]; dup {
			return nil, fmt.Errorf("%w: duplicate dimension %q", ErrInvalidTable, d.Key)
		}
		t.dims[key] = d
		t.order = append(t.order, key)
	}
	return t, nil
}

// validate enforces strictly increasing band maxima ending at 100.
func validate(d *Dimension) error {
	if d.Key == "" || len(d.Bands) == 0 {
		return fmt.Errorf("%w: dimension %q has no bands", ErrInvalidTable, d.Key)
	}
	prev := 0
	for i, b := range d.Bands {
		if b.Max <= prev {
			return fmt.Errorf("%w: %s band %d max %d not above %d", ErrInvalidTable, d.Key, i, b.Max, prev)
		}
		if b.Base == "" {
			return fmt.Errorf("%w: %s band %d has no base phrase", ErrInvalidTable, d.Key, i)
		}
		prev = b.Max
	}
	if prev != 100 {
		return fmt.Errorf("%w: %s last band max is %d, want 100", ErrInvalidTable, d.Key, prev)
	}
	return nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the embedded table. The embedded data is validated by
// tests, so a load failure here is a build defect.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Load(defaultTiers)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// normalizeKey accepts "adult_content", "adultContent" and "Adult Content".
func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Dimensions returns dimension keys in table order.
func (t *Table) Dimensions() []string {
	out := make([]string, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.dims[k].Key)
	}
	return out
}

// Resolve maps a level onto its band and active modifiers. Levels are
// clamped to [0, 100].
func (t *Table) Resolve(dimension string, level int) (Instruction, error) {
	d, ok := t.dims[normalizeKey(dimension)]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %q", ErrUnknownDimension, dimension)
	}
	level = max(0, min(100, level))

	idx := sort.Search(len(d.Bands), func(i int) bool { return d.Bands[i].Max >= level })
	band := d.Bands[idx]
	prevMax := 0
	if idx > 0 {
		prevMax = d.Bands[idx-1].Max
	}

	n := modifierCount(level-prevMax, band.Max-prevMax, len(band.Modifiers))
	return Instruction{
		Dimension: d.Key,
		Label:     d.Label,
		Level:     level,
		Band:      idx,
		Base:      band.Base,
		Modifiers: append([]string(nil), band.Modifiers[:n]...),
	}, nil
}

// modifierCount is ceil(position / (span / m)), capped at m.
func modifierCount(position, span, m int) int {
	if m == 0 || position <= 0 || span <= 0 {
		return 0
	}
	step := float64(span) / float64(m)
	n := int(math.Ceil(float64(position) / step))
	return min(n, m)
}

// GetInstruction returns the rendered instruction text for one dimension.
func (t *Table) GetInstruction(dimension string, level int) (string, error) {
	inst, err := t.Resolve(dimension, level)
	if err != nil {
		return "", err
	}
	return inst.Text(), nil
}

// compliancePreamble tells the model that every point on a slider matters.
const compliancePreamble = `CONTENT INTENSITY REQUIREMENTS (MANDATORY):
These levels are precise percentages, not loose categories. Each point matters:
81% MUST be more intense than 80%, and 40% MUST be noticeably milder than 60%.
Match every dimension below exactly. Do not soften or exceed them.`

// BuildIntensityBlock renders every dimension with level > 0 in table
// order. Unknown dimensions are skipped. It returns "" when nothing is set.
func (t *Table) BuildIntensityBlock(levels map[string]int) string {
	byKey := make(map[string]int, len(levels))
	for k, v := range levels {
		byKey[normalizeKey(k)] = v
	}

	var lines []string
	for _, key := range t.order {
		level, ok := byKey[key]
		if !ok || level <= 0 {
			continue
		}
		inst, err := t.Resolve(key, level)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%d%%): %s", inst.Label, inst.Level, inst.Text()))
	}
	if len(lines) == 0 {
		return ""
	}
	return compliancePreamble + "\n\n" + strings.Join(lines, "\n") + "\n"
}
