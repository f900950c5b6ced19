package extraction

import (
	"strings"

	"github.com/scrypster/storyforge/pkg/types"
)

// nameKey is the merge key for named entities: lowercased and trimmed.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// mergeByKey collapses entries sharing a key, keeping first-seen order.
func mergeByKey[T any](in []T, key func(T) string, merge func(a, b T) T) []T {
	out := make([]T, 0, len(in))
	pos := make(map[string]int, len(in))
	for _, v := range in {
		k := key(v)
		if i, ok := pos[k]; ok {
			out[i] = merge(out[i], v)
			continue
		}
		pos[k] = len(out)
		out = append(out, v)
	}
	return out
}

// preferString keeps a unless a is a default value and b is not, or b is
// strictly longer. Ties go to a so repeated merges are stable.
func preferString(a, b string, defaults ...string) string {
	aDef, bDef := isDefault(a, defaults), isDefault(b, defaults)
	switch {
	case aDef && !bDef:
		return b
	case bDef:
		return a
	case len(b) > len(a):
		return b
	default:
		return a
	}
}

func isDefault(v string, defaults []string) bool {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, unknown) {
		return true
	}
	for _, d := range defaults {
		if strings.EqualFold(v, d) {
			return true
		}
	}
	return false
}

// union appends b's values missing from a, compared case-insensitively.
func union(a, b []string) []string {
	return cleanList(append(append(make([]string, 0, len(a)+len(b)), a...), b...))
}

var confidenceRank = map[types.Confidence]int{
	types.ConfidenceLow:    1,
	types.ConfidenceMedium: 2,
	types.ConfidenceHigh:   3,
}

func mergeMeta(a, b types.Meta) types.Meta {
	m := a
	if confidenceRank[b.Confidence] > confidenceRank[a.Confidence] {
		m.Confidence = b.Confidence
	}
	m.Importance = max(a.Importance, b.Importance)
	m.SourceChunkIndex = min(a.SourceChunkIndex, b.SourceChunkIndex)
	return m
}

// MergeCharacters combines two records of the same character seen in
// different chunks. Role follows protagonist > antagonist > supporting >
// minor > mentioned; scalar fields prefer known values, then the longer
// string; lists are unioned. Merging is idempotent: MergeCharacters(c, c)
// returns c, and re-merging an already absorbed record changes nothing.
func MergeCharacters(a, b types.Character) types.Character {
	m := a
	m.Meta = mergeMeta(a.Meta, b.Meta)
	if types.RolePriority(b.Role) > types.RolePriority(a.Role) {
		m.Role = b.Role
	}
	m.Aliases = union(a.Aliases, b.Aliases)
	m.Species = preferString(a.Species, b.Species, defaultSpecies)
	m.Gender = preferString(a.Gender, b.Gender)
	m.Age = preferString(a.Age, b.Age)
	m.IsAnimalCompanion = a.IsAnimalCompanion || b.IsAnimalCompanion
	m.CompanionTo = preferString(a.CompanionTo, b.CompanionTo)
	m.IsDeceased = a.IsDeceased || b.IsDeceased
	m.IsAlive = !m.IsDeceased
	m.DeathDetails = mergeDeath(a.DeathDetails, b.DeathDetails)
	m.Appearance = preferString(a.Appearance, b.Appearance)
	m.Personality = preferString(a.Personality, b.Personality)
	m.Backstory = preferString(a.Backstory, b.Backstory)
	m.VoiceDescription = preferString(a.VoiceDescription, b.VoiceDescription)
	m.Abilities = union(a.Abilities, b.Abilities)
	m.Relationships = mergeRelationships(a.Relationships, b.Relationships)
	return m
}

func mergeDeath(a, b *types.DeathDetails) *types.DeathDetails {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		d := *b
		return &d
	case b == nil:
		d := *a
		return &d
	}
	return &types.DeathDetails{
		Cause:        preferString(a.Cause, b.Cause),
		Circumstance: preferString(a.Circumstance, b.Circumstance),
		KilledBy:     preferString(a.KilledBy, b.KilledBy),
		When:         preferString(a.When, b.When),
	}
}

func mergeRelationships(a, b []types.Relationship) []types.Relationship {
	out := make([]types.Relationship, 0, len(a)+len(b))
	pos := make(map[string]int)
	for _, r := range append(append([]types.Relationship(nil), a...), b...) {
		k := nameKey(r.To) + "|" + strings.ToLower(r.Type)
		if i, ok := pos[k]; ok {
			out[i].Notes = preferString(out[i].Notes, r.Notes)
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func mergeItems(a, b types.Item) types.Item {
	m := a
	m.Meta = mergeMeta(a.Meta, b.Meta)
	m.ItemType = preferString(a.ItemType, b.ItemType, types.ItemTypeMisc)
	m.Rarity = preferString(a.Rarity, b.Rarity, types.RarityCommon)
	m.Description = preferString(a.Description, b.Description)
	m.Properties = union(a.Properties, b.Properties)
	m.Owner = preferString(a.Owner, b.Owner)
	m.Location = preferString(a.Location, b.Location)
	m.Significance = preferString(a.Significance, b.Significance)
	return m
}

func mergeFactions(a, b types.Faction) types.Faction {
	m := a
	m.Meta = mergeMeta(a.Meta, b.Meta)
	m.FactionType = preferString(a.FactionType, b.FactionType, types.FactionTypeOther)
	m.Description = preferString(a.Description, b.Description)
	m.Leader = preferString(a.Leader, b.Leader)
	m.Members = union(a.Members, b.Members)
	m.Goals = union(a.Goals, b.Goals)
	m.Allies = union(a.Allies, b.Allies)
	m.Enemies = union(a.Enemies, b.Enemies)
	m.Headquarters = preferString(a.Headquarters, b.Headquarters)
	m.Alignment = preferString(a.Alignment, b.Alignment, defaultAlignment)
	return m
}

func mergeLore(a, b types.LoreEntry) types.LoreEntry {
	m := a
	m.Meta = mergeMeta(a.Meta, b.Meta)
	m.Content = preferString(a.Content, b.Content)
	m.EntryType = preferString(a.EntryType, b.EntryType, types.LoreTypeCustom)
	m.Tags = union(a.Tags, b.Tags)
	return m
}

func mergeWorld(a, b types.WorldInfo) types.WorldInfo {
	m := a
	m.Meta = mergeMeta(a.Meta, b.Meta)
	m.Name = preferString(a.Name, b.Name)
	m.Genre = preferString(a.Genre, b.Genre)
	m.Setting = preferString(a.Setting, b.Setting)
	m.TimePeriod = preferString(a.TimePeriod, b.TimePeriod)
	m.Tone = preferString(a.Tone, b.Tone, defaultTone)
	m.Themes = union(a.Themes, b.Themes)
	m.MagicSystem = preferString(a.MagicSystem, b.MagicSystem)
	m.Technology = preferString(a.Technology, b.Technology)
	m.Rules = union(a.Rules, b.Rules)
	m.Locations = mergeByKey(append(append([]types.Location(nil), a.Locations...), b.Locations...),
		func(l types.Location) string { return nameKey(l.Name) },
		func(x, y types.Location) types.Location {
			x.LocationType = preferString(x.LocationType, y.LocationType, defaultLocationType)
			x.Description = preferString(x.Description, y.Description)
			return x
		})
	return m
}
