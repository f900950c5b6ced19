// Package persona resolves director and author styles and compiles them into
// prompt guidance.
//
// Personas are data: each table is embedded YAML loaded once into an
// immutable Table. Lookup and scoring run generically over the table, so a
// new persona is a data change only.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed directors.yaml
var directorData []byte

//go:embed authors.yaml
var authorData []byte

// ErrInvalidTable is returned when persona data is malformed.
var ErrInvalidTable = errors.New("invalid persona table")

// Kind distinguishes the two persona tables.
type Kind string

// Persona kinds
const (
	KindDirector Kind = "director"
	KindAuthor   Kind = "author"
)

// SoundDesign is the persona's approach to the audio bed.
type SoundDesign struct {
	Ambience string `yaml:"ambience" json:"ambience"`
	Music    string `yaml:"music" json:"music"`
	Silence  string `yaml:"silence" json:"silence"`
}

// VoiceActing is the persona's direction for voiced dialogue.
type VoiceActing struct {
	Delivery string `yaml:"delivery" json:"delivery"`
	Emotion  string `yaml:"emotion" json:"emotion"`
	Pauses   string `yaml:"pauses" json:"pauses"`
}

// Persona is one director or author style.
type Persona struct {
	Key               string      `yaml:"key" json:"key"`
	Name              string      `yaml:"name" json:"name"`
	BestFor           []string    `yaml:"best_for" json:"best_for"`
	SFXPhilosophy     string      `yaml:"sfx_philosophy" json:"sfx_philosophy"`
	VoiceDirection    string      `yaml:"voice_direction" json:"voice_direction"`
	Pacing            string      `yaml:"pacing" json:"pacing"`
	SceneStructure    string      `yaml:"scene_structure" json:"scene_structure"`
	SignatureElements []string    `yaml:"signature_elements" json:"signature_elements"`
	SoundDesign       SoundDesign `yaml:"sound_design" json:"sound_design"`
	VoiceActing       VoiceActing `yaml:"voice_acting" json:"voice_acting"`
}

// Table is an immutable persona set with a fallback entry.
type Table struct {
	kind     Kind
	personas []Persona
	byKey    map[string]int
	fallback int
}

// Load parses a persona table. The fallback key must name a persona in the
// table.
func Load(kind Kind, data []byte) (*Table, error) {
	var doc struct {
		Fallback string    `yaml:"fallback"`
		Personas []Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(doc.Personas) == 0 {
		return nil, fmt.Errorf("%w: no personas", ErrInvalidTable)
	}

	t := &Table{kind: kind, personas: doc.Personas, byKey: make(map[string]int, len(doc.Personas))}
	for i, p := range doc.Personas {
		k := normalize(p.Key)
		if k == "" || p.Name == "" {
			return nil, fmt.Errorf("%w: persona %d has no key or name", ErrInvalidTable, i)
		}
		if _, dup := t.byKey[k]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidTable, p.Key)
		}
		for j, g := range p.BestFor {
			t.personas[i].BestFor[j] = normalizeGenre(g)
		}
		t.byKey[k] = i
	}

	fb, ok := t.byKey[normalize(doc.Fallback)]
	if !ok {
		return nil, fmt.Errorf("%w: fallback %q not in table", ErrInvalidTable, doc.Fallback)
	}
	t.fallback = fb
	return t, nil
}

var (
	directorsOnce sync.Once
	directors     *Table
	authorsOnce   sync.Once
	authors       *Table
)

// Directors returns the embedded director table.
func Directors() *Table {
	directorsOnce.Do(func() { directors = mustLoad(KindDirector, directorData) })
	return directors
}

// Authors returns the embedded author table.
func Authors() *Table {
	authorsOnce.Do(func() { authors = mustLoad(KindAuthor, authorData) })
	return authors
}

func mustLoad(kind Kind, data []byte) *Table {
	t, err := Load(kind, data)
	if err != nil {
		panic(err)
	}
	return t
}

// ForKind returns the embedded table for kind, defaulting to directors.
func ForKind(kind Kind) *Table {
	if kind == KindAuthor {
		return Authors()
	}
	return Directors()
}

// Kind reports which persona table t holds.
func (t *Table) Kind() Kind { return t.kind }

// Keys returns persona keys in table order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.personas))
	for i, p := range t.personas {
		keys[i] = p.Key
	}
	return keys
}

// Default returns the fallback persona.
func (t *Table) Default() Persona {
	return t.personas[t.fallback]
}

// Lookup returns the persona with exactly this key.
func (t *Table) Lookup(key string) (Persona, bool) {
	i, ok := t.byKey[normalize(key)]
	if !ok {
		return Persona{}, false
	}
	return t.personas[i], true
}

// Resolve never returns an empty persona: exact key first, then a substring
// match against display names, then the table's fallback.
func (t *Table) Resolve(key string) Persona {
	if p, ok := t.Lookup(key); ok {
		return p
	}
	needle := normalize(key)
	if needle != "" {
		for _, p := range t.personas {
			name := normalize(p.Name)
			if strings.Contains(name, needle) || strings.Contains(needle, name) {
				return p
			}
		}
	}
	return t.Default()
}

// GetForGenres scores every persona by the summed weight of the genres in
// its best-for list and returns the highest scorer. Ties go to the earlier
// table entry. ok is false when no persona overlaps the weighted genres.
func (t *Table) GetForGenres(weights map[string]float64) (Persona, bool) {
	if len(weights) == 0 {
		return Persona{}, false
	}
	norm := make(map[string]float64, len(weights))
	for g, w := range weights {
		norm[normalizeGenre(g)] += w
	}

	best, bestScore := -1, 0.0
	for i, p := range t.personas {
		var score float64
		for _, g := range p.BestFor {
			score += norm[g]
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Persona{}, false
	}
	return t.personas[best], true
}

// normalize folds keys and names to lowercase alphanumerics so "Del Toro",
// "del_toro" and "deltoro" compare equal.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeGenre(g string) string {
	g = strings.ToLower(strings.TrimSpace(g))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(g)
}
