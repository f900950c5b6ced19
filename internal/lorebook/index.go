package lorebook

import (
	"strings"
	"unicode"

	"github.com/scrypster/storyforge/internal/storage"
)

// minTitleWord is the shortest title word that becomes a keyword.
const minTitleWord = 3

// minPartialKeyword is the shortest keyword allowed to match as a
// substring of a longer word.
const minPartialKeyword = 5

// stopwords never become keywords, even when capitalized at the start of a
// sentence.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "but": true, "with": true, "from": true,
	"this": true, "that": true, "then": true, "than": true, "when": true, "where": true,
	"what": true, "who": true, "his": true, "her": true, "hers": true, "its": true,
	"their": true, "they": true, "them": true, "she": true, "him": true, "you": true,
	"our": true, "are": true, "was": true, "were": true, "has": true, "had": true,
	"have": true, "not": true, "all": true, "any": true, "one": true, "into": true,
	"onto": true, "upon": true, "after": true, "before": true, "there": true, "here": true,
	"these": true, "those": true, "each": true, "every": true, "some": true, "many": true,
	"once": true, "also": true, "only": true, "even": true, "although": true, "because": true,
}

// index maps a lowercase keyword to the ids of entries it triggers.
type index map[string][]string

// buildIndex derives keywords from titles, tags and capitalized words in
// the content of every entry.
func buildIndex(entries map[string]*storage.LoreEntry) index {
	idx := make(index)
	for id, e := range entries {
		for kw := range keywords(e) {
			idx[kw] = append(idx[kw], id)
		}
	}
	return idx
}

func keywords(e *storage.LoreEntry) map[string]bool {
	kws := make(map[string]bool)
	for _, w := range words(e.Title) {
		lw := strings.ToLower(w)
		if len([]rune(lw)) >= minTitleWord && !stopwords[lw] {
			kws[lw] = true
		}
	}
	for _, tag := range e.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			kws[tag] = true
		}
	}
	for _, w := range words(e.Content) {
		r := []rune(w)
		if len(r) < minTitleWord || !unicode.IsUpper(r[0]) {
			continue
		}
		lw := strings.ToLower(w)
		if !stopwords[lw] {
			kws[lw] = true
		}
	}
	return kws
}

// words splits text on anything that is not a letter, digit, apostrophe
// or hyphen.
func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

// tokenize lowercases text into a word set plus a space-joined form used
// for phrase and substring matching.
func tokenize(text string) (map[string]bool, string) {
	ws := words(strings.ToLower(text))
	set := make(map[string]bool, len(ws))
	for _, w := range ws {
		set[w] = true
	}
	return set, " " + strings.Join(ws, " ") + " "
}
