package importer

import (
	"regexp"
	"strings"
)

// wikilinkRe matches [[target]] and [[target|alias]].
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// WikiLink is one [[link]] in a note.
type WikiLink struct {
	Target string
	Alias  string
}

// ExtractWikiLinks returns the links in content in order of first
// appearance, deduplicated by target case-insensitively.
func ExtractWikiLinks(content string) []WikiLink {
	seen := make(map[string]bool)
	var links []WikiLink
	for _, m := range wikilinkRe.FindAllStringSubmatch(content, -1) {
		target := strings.TrimSpace(m[1])
		key := strings.ToLower(target)
		if target == "" || seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, WikiLink{Target: target, Alias: strings.TrimSpace(m[2])})
	}
	return links
}

// StripWikiLinks renders each link as its alias, or its target when it has
// none.
func StripWikiLinks(content string) string {
	return wikilinkRe.ReplaceAllStringFunc(content, func(match string) string {
		m := wikilinkRe.FindStringSubmatch(match)
		if alias := strings.TrimSpace(m[2]); alias != "" {
			return alias
		}
		return strings.TrimSpace(m[1])
	})
}
