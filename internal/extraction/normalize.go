package extraction

import (
	"strings"

	"github.com/scrypster/storyforge/pkg/types"
)

// Field defaults applied when the model omits or garbles a value.
const (
	defaultImportance   = 50
	defaultSpecies      = "human"
	unknown             = "unknown"
	defaultRelationship = "acquaintance"
	defaultAlignment    = "neutral"
	defaultTone         = "neutral"
	defaultLocationType = "other"
)

func meta(confidence string, importance number, chunk int) types.Meta {
	imp := defaultImportance
	if importance.Set {
		imp = int(max(0, min(100, importance.Value)))
	}
	return types.Meta{
		Confidence:       types.ParseConfidence(confidence),
		Importance:       imp,
		SourceChunkIndex: chunk,
	}
}

// cleanList trims, drops empties and removes case-insensitive duplicates,
// keeping first-seen order. It never returns nil.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		k := strings.ToLower(v)
		if v == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// normalizeCharacter fills every field of a decoded character. ok is false
// when the element has no usable name.
func normalizeCharacter(r rawCharacter, chunk int) (types.Character, bool) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return types.Character{}, false
	}

	role := types.OneOf(r.Role, []string{
		types.RoleProtagonist, types.RoleAntagonist, types.RoleSupporting, types.RoleMinor, types.RoleMentioned,
	}, types.RoleSupporting)

	deceased := r.IsDeceased.Value || (r.IsAlive.Set && !r.IsAlive.Value)
	c := types.Character{
		Meta:              meta(r.Confidence, r.Importance, chunk),
		Name:              name,
		Aliases:           cleanList(r.Aliases),
		Role:              role,
		Species:           orDefault(r.Species, defaultSpecies),
		Gender:            orDefault(strings.ToLower(r.Gender), unknown),
		Age:               orDefault(r.Age, unknown),
		IsAnimalCompanion: r.IsAnimalCompanion.Value,
		CompanionTo:       strings.TrimSpace(r.CompanionTo),
		IsAlive:           !deceased,
		IsDeceased:        deceased,
		Appearance:        strings.TrimSpace(r.Appearance),
		Personality:       strings.TrimSpace(r.Personality),
		Backstory:         strings.TrimSpace(r.Backstory),
		VoiceDescription:  strings.TrimSpace(r.VoiceDescription),
		Abilities:         cleanList(r.Abilities),
		Relationships:     make([]types.Relationship, 0, len(r.Relationships)),
	}
	if !c.IsAnimalCompanion {
		c.CompanionTo = ""
	}
	if deceased {
		d := rawDeath{}
		if r.DeathDetails != nil {
			d = *r.DeathDetails
		}
		c.DeathDetails = &types.DeathDetails{
			Cause:        orDefault(d.Cause, unknown),
			Circumstance: strings.TrimSpace(d.Circumstance),
			KilledBy:     strings.TrimSpace(d.KilledBy),
			When:         strings.TrimSpace(d.When),
		}
	}
	seen := make(map[string]bool)
	for _, rel := range r.Relationships {
		to := strings.TrimSpace(rel.To)
		if to == "" || strings.EqualFold(to, name) {
			continue
		}
		typ := strings.ToLower(orDefault(rel.Type, defaultRelationship))
		key := strings.ToLower(to) + "|" + typ
		if seen[key] {
			continue
		}
		seen[key] = true
		c.Relationships = append(c.Relationships, types.Relationship{To: to, Type: typ, Notes: strings.TrimSpace(rel.Notes)})
	}
	return c, true
}

func normalizeItem(r rawItem, chunk int) (types.Item, bool) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return types.Item{}, false
	}
	return types.Item{
		Meta:         meta(r.Confidence, r.Importance, chunk),
		Name:         name,
		ItemType:     types.OneOf(r.ItemType, types.ValidItemTypes, types.ItemTypeMisc),
		Rarity:       types.OneOf(r.Rarity, types.ValidRarities, types.RarityCommon),
		Description:  strings.TrimSpace(r.Description),
		Properties:   cleanList(r.Properties),
		Owner:        strings.TrimSpace(r.Owner),
		Location:     strings.TrimSpace(r.Location),
		Significance: strings.TrimSpace(r.Significance),
	}, true
}

func normalizeFaction(r rawFaction, chunk int) (types.Faction, bool) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return types.Faction{}, false
	}
	return types.Faction{
		Meta:         meta(r.Confidence, r.Importance, chunk),
		Name:         name,
		FactionType:  types.OneOf(r.FactionType, types.ValidFactionTypes, types.FactionTypeOther),
		Description:  strings.TrimSpace(r.Description),
		Leader:       strings.TrimSpace(r.Leader),
		Members:      cleanList(r.Members),
		Goals:        cleanList(r.Goals),
		Allies:       cleanList(r.Allies),
		Enemies:      cleanList(r.Enemies),
		Headquarters: strings.TrimSpace(r.Headquarters),
		Alignment:    strings.ToLower(orDefault(r.Alignment, defaultAlignment)),
	}, true
}

func normalizeLore(r rawLore, chunk int) (types.LoreEntry, bool) {
	title := strings.TrimSpace(r.Title)
	content := strings.TrimSpace(r.Content)
	if title == "" || content == "" {
		return types.LoreEntry{}, false
	}
	tags := cleanList(r.Tags)
	for i := range tags {
		tags[i] = strings.ToLower(tags[i])
	}
	return types.LoreEntry{
		Meta:      meta(r.Confidence, r.Importance, chunk),
		Title:     title,
		Content:   content,
		EntryType: types.OneOf(r.EntryType, types.ValidLoreTypes, types.LoreTypeCustom),
		Tags:      tags,
	}, true
}

func normalizeWorld(r rawWorld, chunk int) (types.WorldInfo, bool) {
	w := types.WorldInfo{
		Meta:        meta(r.Confidence, number{}, chunk),
		Name:        strings.TrimSpace(r.Name),
		Genre:       strings.ToLower(orDefault(r.Genre, unknown)),
		Setting:     strings.TrimSpace(r.Setting),
		TimePeriod:  orDefault(r.TimePeriod, unknown),
		Tone:        strings.ToLower(orDefault(r.Tone, defaultTone)),
		Themes:      cleanList(r.Themes),
		MagicSystem: strings.TrimSpace(r.MagicSystem),
		Technology:  strings.TrimSpace(r.Technology),
		Rules:       cleanList(r.Rules),
		Locations:   make([]types.Location, 0, len(r.Locations)),
	}
	seen := make(map[string]bool)
	for _, l := range r.Locations {
		name := strings.TrimSpace(l.Name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		w.Locations = append(w.Locations, types.Location{
			Name:         name,
			LocationType: strings.ToLower(orDefault(l.LocationType, defaultLocationType)),
			Description:  strings.TrimSpace(l.Description),
		})
	}
	empty := w.Name == "" && w.Setting == "" && len(w.Themes) == 0 && len(w.Locations) == 0 && w.Genre == unknown
	return w, !empty
}
