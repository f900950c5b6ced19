package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/scrypster/storyforge/pkg/types"
)

// Filtered records an entry the lore extractor dropped because it belongs
// to another extractor's category.
type Filtered struct {
	Title  string     `json:"title"`
	Reason types.Kind `json:"likely_kind"`
}

var (
	itemNouns = wordSet(`sword blade dagger knife axe hammer mace spear bow arrow staff wand rod
		ring amulet necklace pendant crown circlet tiara shield armor armour helm helmet gauntlet cloak
		boots orb gem jewel crystal stone key scroll tome book grimoire map potion elixir vial chalice
		grail cup goblet lantern lamp mirror compass horn flute harp chest locket talisman idol`)

	factionNouns = wordSet(`guild order brotherhood sisterhood clan house kingdom empire council legion
		cult society league alliance federation syndicate army tribe covenant circle company church
		temple faith coven cabal consortium dynasty republic senate watch guard knights
		resistance collective inquisition`)

	// loreNouns mark a title as a concept, era or event rather than a person.
	loreNouns = wordSet(`war battle siege legend myth history age era epoch prophecy curse magic
		festival ritual rite treaty fall rise founding plague rebellion law lore
		tradition custom calendar tale song creation cataclysm sundering exile`)

	honorifics = wordSet(`king queen lord lady sir dame captain prince princess duke duchess baron
		count countess emperor empress master mistress father mother brother sister saint dr doctor
		professor general commander admiral chief elder`)

	pronounRe    = regexp.MustCompile(`(?i)\b(he|she|him|her|his|hers)\b`)
	itemLeadRe   = regexp.MustCompile(`(?i)^(a|an|the)\s+(\w+\s+){0,3}(weapon|artifact|artefact|relic|item|object|blade|sword|ring|amulet|tool)\b`)
	personLeadRe = regexp.MustCompile(`(?i)^(a|an|the)?\s*(\w+\s+){0,3}(man|woman|boy|girl|warrior|knight|wizard|witch|sorcerer|sorceress|mage|thief|merchant|priest|priestess|hero|heroine|villain|ruler)\b`)
)

func wordSet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		m[w] = true
	}
	return m
}

func titleWords(title string) []string {
	return strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsAny(words []string, set map[string]bool) bool {
	for _, w := range words {
		if set[w] || set[strings.TrimSuffix(w, "s")] || set[strings.TrimSuffix(w, "'s")] {
			return true
		}
	}
	return false
}

// isLikelyItem reports whether a lore entry describes a single named
// object, such as "The Sword of Dawn".
func isLikelyItem(e types.LoreEntry) bool {
	words := titleWords(e.Title)
	if containsAny(words, loreNouns) {
		return false
	}
	if containsAny(words, itemNouns) {
		return true
	}
	return itemLeadRe.MatchString(strings.TrimSpace(e.Content))
}

// isLikelyFaction reports whether a lore entry describes an organized
// group, such as "The Iron Brotherhood" or "House Varn".
func isLikelyFaction(e types.LoreEntry) bool {
	words := titleWords(e.Title)
	if len(words) == 0 {
		return false
	}
	if containsAny(words, loreNouns) {
		return false
	}
	return containsAny(words, factionNouns)
}

// isLikelyCharacter reports whether a lore entry is really a person: a
// short title-cased name that either carries an honorific or whose content
// opens by describing someone.
func isLikelyCharacter(e types.LoreEntry) bool {
	title := strings.TrimSpace(e.Title)
	words := titleWords(title)
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	if containsAny(words, loreNouns) || containsAny(words, factionNouns) || containsAny(words, itemNouns) {
		return false
	}
	for _, f := range strings.Fields(title) {
		r := []rune(f)
		if !unicode.IsUpper(r[0]) && !isJoiner(f) {
			return false
		}
	}
	if honorifics[words[0]] {
		return true
	}
	first := firstSentence(e.Content)
	return pronounRe.MatchString(first) || personLeadRe.MatchString(first)
}

// isJoiner allows "Aldric of the Vale" and "Jon al-Rashid" style names.
func isJoiner(w string) bool {
	switch strings.ToLower(w) {
	case "of", "the", "de", "del", "van", "von", "al", "la", "le", "da":
		return true
	}
	return false
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		return s[:i]
	}
	return s
}

// classifyLore returns the category a lore entry really belongs to, or
// KindLore when it is genuine background knowledge. Factions are checked
// before items so "Order of the Sword" stays a faction.
func classifyLore(e types.LoreEntry) types.Kind {
	switch {
	case isLikelyFaction(e):
		return types.KindFaction
	case isLikelyItem(e):
		return types.KindItem
	case isLikelyCharacter(e):
		return types.KindCharacter
	default:
		return types.KindLore
	}
}
