package types

// Meta is carried by every extraction variant.
type Meta struct {
	Confidence       Confidence `json:"confidence"`         // high|medium|low
	Importance       int        `json:"importance"`         // 0-100
	SourceChunkIndex int        `json:"source_chunk_index"` // chunk the entity was first seen in
}

// Extracted is implemented by every extraction variant. The unexported
// method keeps the set closed to this package.
type Extracted interface {
	Kind() Kind
	Label() string
	Metadata() Meta
	sealed()
}

// Relationship links a character to another named entity.
type Relationship struct {
	To    string `json:"to"`
	Type  string `json:"type"`
	Notes string `json:"notes"`
}

// DeathDetails records how a deceased character died.
type DeathDetails struct {
	Cause        string `json:"cause"`
	Circumstance string `json:"circumstance"`
	KilledBy     string `json:"killed_by"`
	When         string `json:"when"`
}

// Character is a person, creature or companion who acts in the story.
type Character struct {
	Meta

	Name              string         `json:"name"`
	Aliases           []string       `json:"aliases"`
	Role              string         `json:"role"` // see Role constants
	Species           string         `json:"species"`
	Gender            string         `json:"gender"`
	Age               string         `json:"age"`
	IsAnimalCompanion bool           `json:"is_animal_companion"`
	CompanionTo       string         `json:"companion_to"`
	IsAlive           bool           `json:"is_alive"`
	IsDeceased        bool           `json:"is_deceased"`
	DeathDetails      *DeathDetails  `json:"death_details"`
	Appearance        string         `json:"appearance"`
	Personality       string         `json:"personality"`
	Backstory         string         `json:"backstory"`
	VoiceDescription  string         `json:"voice_description"`
	Abilities         []string       `json:"abilities"`
	Relationships     []Relationship `json:"relationships"`
}

// Item is a named object that matters to the plot.
type Item struct {
	Meta

	Name         string   `json:"name"`
	ItemType     string   `json:"item_type"` // default misc
	Rarity       string   `json:"rarity"`    // default common
	Description  string   `json:"description"`
	Properties   []string `json:"properties"`
	Owner        string   `json:"owner"`
	Location     string   `json:"location"`
	Significance string   `json:"significance"`
}

// Faction is an organized group: guild, house, order, gang, nation.
type Faction struct {
	Meta

	Name         string   `json:"name"`
	FactionType  string   `json:"faction_type"` // default other
	Description  string   `json:"description"`
	Leader       string   `json:"leader"`
	Members      []string `json:"members"`
	Goals        []string `json:"goals"`
	Allies       []string `json:"allies"`
	Enemies      []string `json:"enemies"`
	Headquarters string   `json:"headquarters"`
	Alignment    string   `json:"alignment"`
}

// LoreEntry is a piece of background knowledge: history, legend, custom.
type LoreEntry struct {
	Meta

	Title     string   `json:"title"`
	Content   string   `json:"content"`
	EntryType string   `json:"entry_type"` // default custom
	Tags      []string `json:"tags"`
}

// Location is a named place described by the world extractor.
type Location struct {
	Name         string `json:"name"`
	LocationType string `json:"location_type"`
	Description  string `json:"description"`
}

// WorldInfo describes the setting as a whole.
type WorldInfo struct {
	Meta

	Name        string     `json:"name"`
	Genre       string     `json:"genre"`
	Setting     string     `json:"setting"`
	TimePeriod  string     `json:"time_period"`
	Tone        string     `json:"tone"`
	Themes      []string   `json:"themes"`
	MagicSystem string     `json:"magic_system"`
	Technology  string     `json:"technology"`
	Rules       []string   `json:"rules"`
	Locations   []Location `json:"locations"`
}

func (c Character) Kind() Kind { return KindCharacter }
func (c Character) Label() string { return c.Name }
func (c Character) Metadata() Meta { return c.Meta }
func (Character) sealed() {}
func (i Item) Kind() Kind { return KindItem }
func (i Item) Label() string { return i.Name }
func (i Item) Metadata() Meta { return i.Meta }
func (Item) sealed() {}
func (f Faction) Kind() Kind { return KindFaction }
func (f Faction) Label() string { return f.Name }
func (f Faction) Metadata() Meta { return f.Meta }
func (Faction) sealed() {}
func (l LoreEntry) Kind() Kind { return KindLore }
func (l LoreEntry) Label() string { return l.Title }
func (l LoreEntry) Metadata() Meta { return l.Meta }
func (LoreEntry) sealed() {}
func (w WorldInfo) Kind() Kind { return KindWorld }
func (w WorldInfo) Label() string { return w.Name }
func (w WorldInfo) Metadata() Meta { return w.Meta }
func (WorldInfo) sealed() {}

// Compile-time assertions.
var (
	_ Extracted = Character{}
	_ Extracted = Item{}
	_ Extracted = Faction{}
	_ Extracted = LoreEntry{}
	_ Extracted = WorldInfo{}
)
