package extraction

import (
	"fmt"

	"github.com/scrypster/storyforge/internal/llm"
)

const characterRules = `You are a literary analyst extracting CHARACTERS from story text.

INCLUDE:
- Every person, creature or sentient being who acts, speaks or is meaningfully described
- Animal companions (set is_animal_companion and companion_to)
- Characters who are dead; set is_deceased and fill death_details

EXCLUDE (other extractors handle these):
- Objects, weapons and artifacts (items)
- Groups, guilds, houses and nations (factions)
- Places (world)
- Historical events, legends and concepts (lore)

RULES:
- One entry per character. Merge aliases and titles into "aliases"
- role is one of protagonist, antagonist, supporting, minor, mentioned
- Describe voice_description so a voice actor could perform the character
- Only state facts supported by the text`

const itemRules = `You are extracting significant ITEMS from story text.

INCLUDE:
- Named or plot-relevant objects: weapons, armor, artifacts, keys, documents, vehicles, treasures
- Consumables only when they affect the plot

EXCLUDE:
- People and creatures, even if they are called "the Blade" or similar
- Organizations and places
- Generic scenery (chairs, trees, doors) unless the plot turns on them

RULES:
- item_type is one of weapon, armor, artifact, consumable, tool, key, treasure, vehicle, document, misc
- rarity is one of common, uncommon, rare, legendary, unique
- owner names the character holding the item, if known`

const factionRules = `You are extracting FACTIONS from story text.

INCLUDE:
- Organized groups with shared identity or goals: guilds, noble houses, kingdoms, religions, armies, gangs, companies, secret societies

EXCLUDE:
- Individual characters, even leaders (name them in "leader" instead)
- Items and places
- Informal crowds with no identity ("the villagers")

RULES:
- faction_type is one of guild, kingdom, religion, military, criminal, corporate, family, secret_society, political, other
- members, allies and enemies list names exactly as they appear in the text`

const loreRules = `You are extracting LORE: background knowledge about the story world.

INCLUDE:
- History, legends, prophecies, magic systems, religions, cultures, customs, creatures as a species, notable events

EXCLUDE (these belong to other extractors and will be rejected):
- Named individual characters
- Named items, weapons and artifacts
- Named factions, guilds, houses and orders
- Simple place descriptions

RULES:
- entry_type is one of history, legend, magic, religion, culture, location, creature, event, custom
- content is a self-contained summary of one to three sentences
- tags are lowercase keywords a reader might use to recall the entry`

const worldRules = `You are extracting WORLD INFORMATION: the setting as a whole.

Capture the genre, setting, time period, tone, themes, any magic system or technology level,
rules the world obeys, and the named locations with a short description of each.

Return a single element in the "world" array. Leave fields empty when the text gives no evidence.`

func systemPrompt(rules, key, schema string) string {
	return rules + "\n\n" + llm.JSONContract(key, schema)
}

var (
	characterPrompt = systemPrompt(characterRules, "characters", llm.SchemaFor[characterEnvelope]())
	itemPrompt      = systemPrompt(itemRules, "items", llm.SchemaFor[itemEnvelope]())
	factionPrompt   = systemPrompt(factionRules, "factions", llm.SchemaFor[factionEnvelope]())
	lorePrompt      = systemPrompt(loreRules, "lore", llm.SchemaFor[loreEnvelope]())
	worldPrompt     = systemPrompt(worldRules, "world", llm.SchemaFor[worldEnvelope]())
)

func userPrompt(noun string, chunk llm.Chunk, total int) string {
	if total <= 1 {
		return fmt.Sprintf("Extract all %s from the following text:\n\n%s", noun, chunk.Text)
	}
	return fmt.Sprintf("Extract all %s from the following text (part %d of %d):\n\n%s",
		noun, chunk.Index+1, total, chunk.Text)
}
