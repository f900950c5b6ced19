package extraction

// Wire shapes the model is asked to emit. Fields are loosely typed so a
// missing or malformed value decodes to its zero value instead of failing
// the whole element; the normalize constructors then fill every default.

type rawRelationship struct {
	To    string `json:"to" jsonschema_description:"Name of the other character or entity"`
	Type  string `json:"type" jsonschema_description:"Relationship kind such as ally, rival, sibling, mentor"`
	Notes string `json:"notes,omitempty"`
}

type rawDeath struct {
	Cause        string `json:"cause,omitempty"`
	Circumstance string `json:"circumstance,omitempty"`
	KilledBy     string `json:"killed_by,omitempty"`
	When         string `json:"when,omitempty"`
}

type rawCharacter struct {
	Name              string            `json:"name" jsonschema:"required"`
	Aliases           strs              `json:"aliases,omitempty"`
	Role              string            `json:"role" jsonschema:"enum=protagonist,enum=antagonist,enum=supporting,enum=minor,enum=mentioned"`
	Species           string            `json:"species,omitempty"`
	Gender            string            `json:"gender,omitempty"`
	Age               string            `json:"age,omitempty"`
	IsAnimalCompanion flag              `json:"is_animal_companion,omitempty"`
	CompanionTo       string            `json:"companion_to,omitempty"`
	IsAlive           flag              `json:"is_alive,omitempty"`
	IsDeceased        flag              `json:"is_deceased,omitempty"`
	DeathDetails      *rawDeath         `json:"death_details,omitempty"`
	Appearance        string            `json:"appearance,omitempty"`
	Personality       string            `json:"personality,omitempty"`
	Backstory         string            `json:"backstory,omitempty"`
	VoiceDescription  string            `json:"voice_description,omitempty" jsonschema_description:"How the character sounds when speaking"`
	Abilities         strs              `json:"abilities,omitempty"`
	Relationships     []rawRelationship `json:"relationships,omitempty"`
	Importance        number            `json:"importance,omitempty" jsonschema_description:"0-100 narrative importance"`
	Confidence        string            `json:"confidence,omitempty" jsonschema:"enum=high,enum=medium,enum=low"`
}

type rawItem struct {
	Name         string `json:"name" jsonschema:"required"`
	ItemType     string `json:"item_type" jsonschema:"enum=weapon,enum=armor,enum=artifact,enum=consumable,enum=tool,enum=key,enum=treasure,enum=vehicle,enum=document,enum=misc"`
	Rarity       string `json:"rarity,omitempty" jsonschema:"enum=common,enum=uncommon,enum=rare,enum=legendary,enum=unique"`
	Description  string `json:"description,omitempty"`
	Properties   strs   `json:"properties,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Location     string `json:"location,omitempty"`
	Significance string `json:"significance,omitempty"`
	Importance   number `json:"importance,omitempty"`
	Confidence   string `json:"confidence,omitempty" jsonschema:"enum=high,enum=medium,enum=low"`
}

type rawFaction struct {
	Name         string `json:"name" jsonschema:"required"`
	FactionType  string `json:"faction_type" jsonschema:"enum=guild,enum=kingdom,enum=religion,enum=military,enum=criminal,enum=corporate,enum=family,enum=secret_society,enum=political,enum=other"`
	Description  string `json:"description,omitempty"`
	Leader       string `json:"leader,omitempty"`
	Members      strs   `json:"members,omitempty"`
	Goals        strs   `json:"goals,omitempty"`
	Allies       strs   `json:"allies,omitempty"`
	Enemies      strs   `json:"enemies,omitempty"`
	Headquarters string `json:"headquarters,omitempty"`
	Alignment    string `json:"alignment,omitempty"`
	Importance   number `json:"importance,omitempty"`
	Confidence   string `json:"confidence,omitempty" jsonschema:"enum=high,enum=medium,enum=low"`
}

type rawLore struct {
	Title      string `json:"title" jsonschema:"required"`
	Content    string `json:"content" jsonschema:"required"`
	EntryType  string `json:"entry_type" jsonschema:"enum=history,enum=legend,enum=magic,enum=religion,enum=culture,enum=location,enum=creature,enum=event,enum=custom"`
	Tags       strs   `json:"tags,omitempty"`
	Importance number `json:"importance,omitempty"`
	Confidence string `json:"confidence,omitempty" jsonschema:"enum=high,enum=medium,enum=low"`
}

type rawLocation struct {
	Name         string `json:"name" jsonschema:"required"`
	LocationType string `json:"location_type,omitempty" jsonschema_description:"city, region, building, landmark, realm or other"`
	Description  string `json:"description,omitempty"`
}

type rawWorld struct {
	Name        string        `json:"name,omitempty" jsonschema_description:"Name of the world or setting"`
	Genre       string        `json:"genre,omitempty"`
	Setting     string        `json:"setting,omitempty"`
	TimePeriod  string        `json:"time_period,omitempty"`
	Tone        string        `json:"tone,omitempty"`
	Themes      strs          `json:"themes,omitempty"`
	MagicSystem string        `json:"magic_system,omitempty"`
	Technology  string        `json:"technology,omitempty"`
	Rules       strs          `json:"rules,omitempty"`
	Locations   []rawLocation `json:"locations,omitempty"`
	Confidence  string        `json:"confidence,omitempty" jsonschema:"enum=high,enum=medium,enum=low"`
}

type characterEnvelope struct {
	Characters []rawCharacter `json:"characters"`
}

type itemEnvelope struct {
	Items []rawItem `json:"items"`
}

type factionEnvelope struct {
	Factions []rawFaction `json:"factions"`
}

type loreEnvelope struct {
	Lore []rawLore `json:"lore"`
}

type worldEnvelope struct {
	World []rawWorld `json:"world"`
}
