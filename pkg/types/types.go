// Package types defines the core data structures shared across Storyforge:
// extracted story entities (characters, items, factions, lore, world info),
// their confidence and category enums, and the role ordering used when
// merging extraction results across chunks.
package types

import "strings"

// Confidence is the extractor's self-reported certainty about an entity.
type Confidence string

// Confidence levels
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ValidConfidences lists every accepted confidence value.
var ValidConfidences = []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow}

// IsValidConfidence reports whether c is one of the known confidence levels.
func IsValidConfidence(c string) bool {
	for _, v := range ValidConfidences {
		if string(v) == c {
			return true
		}
	}
	return false
}

// ParseConfidence lowercases s and returns the matching level, or
// ConfidenceMedium when s is empty or unknown.
func ParseConfidence(s string) Confidence {
	s = strings.ToLower(strings.TrimSpace(s))
	if IsValidConfidence(s) {
		return Confidence(s)
	}
	return ConfidenceMedium
}

// Kind identifies which variant an ExtractionResult carries.
type Kind string

// Extraction variants. A named entity belongs to exactly one of
// character, item, faction, location or lore; world info describes the
// setting as a whole and owns the location category.
const (
	KindCharacter Kind = "character"
	KindItem      Kind = "item"
	KindFaction   Kind = "faction"
	KindLocation  Kind = "location"
	KindLore      Kind = "lore"
	KindWorld     Kind = "world"
)

// Character roles ordered from most to least narratively central.
const (
	RoleProtagonist = "protagonist"
	RoleAntagonist  = "antagonist"
	RoleSupporting  = "supporting"
	RoleMinor       = "minor"
	RoleMentioned   = "mentioned"
)

// rolePriority ranks roles for chunk merges: protagonist > antagonist >
// supporting > minor > mentioned. Unknown roles rank below everything.
var rolePriority = map[string]int{
	RoleProtagonist: 5,
	RoleAntagonist:  4,
	RoleSupporting:  3,
	RoleMinor:       2,
	RoleMentioned:   1,
}

// RolePriority returns the merge rank of role (0 for unknown roles).
func RolePriority(role string) int {
	return rolePriority[strings.ToLower(strings.TrimSpace(role))]
}

// IsValidRole reports whether role is one of the five known roles.
func IsValidRole(role string) bool {
	return RolePriority(role) > 0
}

// Item type constants
const (
	ItemTypeWeapon     = "weapon"
	ItemTypeArmor      = "armor"
	ItemTypeArtifact   = "artifact"
	ItemTypeConsumable = "consumable"
	ItemTypeTool       = "tool"
	ItemTypeKey        = "key"
	ItemTypeTreasure   = "treasure"
	ItemTypeVehicle    = "vehicle"
	ItemTypeDocument   = "document"
	ItemTypeMisc       = "misc"
)

// ValidItemTypes lists accepted item types; anything else becomes misc.
var ValidItemTypes = []string{
	ItemTypeWeapon, ItemTypeArmor, ItemTypeArtifact, ItemTypeConsumable, ItemTypeTool,
	ItemTypeKey, ItemTypeTreasure, ItemTypeVehicle, ItemTypeDocument, ItemTypeMisc,
}

// Rarity constants
const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityLegendary = "legendary"
	RarityUnique    = "unique"
)

// ValidRarities lists accepted rarities; anything else becomes common.
var ValidRarities = []string{RarityCommon, RarityUncommon, RarityRare, RarityLegendary, RarityUnique}

// Faction type constants
const (
	FactionTypeGuild     = "guild"
	FactionTypeKingdom   = "kingdom"
	FactionTypeReligion  = "religion"
	FactionTypeMilitary  = "military"
	FactionTypeCriminal  = "criminal"
	FactionTypeCorporate = "corporate"
	FactionTypeFamily    = "family"
	FactionTypeSecret    = "secret_society"
	FactionTypePolitical = "political"
	FactionTypeOther     = "other"
)

// ValidFactionTypes lists accepted faction types; anything else becomes other.
var ValidFactionTypes = []string{
	FactionTypeGuild, FactionTypeKingdom, FactionTypeReligion, FactionTypeMilitary, FactionTypeCriminal,
	FactionTypeCorporate, FactionTypeFamily, FactionTypeSecret, FactionTypePolitical, FactionTypeOther,
}

// Lore entry type constants
const (
	LoreTypeHistory  = "history"
	LoreTypeLegend   = "legend"
	LoreTypeMagic    = "magic"
	LoreTypeReligion = "religion"
	LoreTypeCulture  = "culture"
	LoreTypeLocation = "location"
	LoreTypeCreature = "creature"
	LoreTypeEvent    = "event"
	LoreTypeCustom   = "custom"
)

// ValidLoreTypes lists accepted lore entry types; anything else becomes custom.
var ValidLoreTypes = []string{
	LoreTypeHistory, LoreTypeLegend, LoreTypeMagic, LoreTypeReligion, LoreTypeCulture,
	LoreTypeLocation, LoreTypeCreature, LoreTypeEvent, LoreTypeCustom,
}

// OneOf returns v lowercased if it appears in allowed, otherwise fallback.
func OneOf(v string, allowed []string, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if a == v {
			return v
		}
	}
	return fallback
}
