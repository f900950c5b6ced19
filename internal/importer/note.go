package importer

import (
	"bufio"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultImportance is used when a note has no importance field.
const DefaultImportance = 50

// Note is one parsed world-bible Markdown file.
type Note struct {
	RelativePath string
	Title        string
	EntryType    string
	Content      string
	Tags         []string
	Importance   int
	Links        []WikiLink
}

// frontmatter is the subset of YAML keys a note may set.
type frontmatter struct {
	Title      string   `yaml:"title"`
	Type       string   `yaml:"type"`
	Tags       yamlList `yaml:"tags"`
	Aliases    yamlList `yaml:"aliases"`
	Importance yamlInt  `yaml:"importance"`
	Skip       yamlBool `yaml:"lorebook_skip"`
}

// yamlList accepts either a YAML sequence or a comma-separated string.
type yamlList []string

func (l *yamlList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return err
		}
		*l = items
	case yaml.ScalarNode:
		for _, s := range strings.Split(n.Value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				*l = append(*l, s)
			}
		}
	default:
		return fmt.Errorf("line %d: expected a list or string", n.Line)
	}
	return nil
}

// yamlInt accepts numbers and quoted numbers.
type yamlInt struct {
	Set   bool
	Value int
}

func (v *yamlInt) UnmarshalYAML(n *yaml.Node) error {
	i, err := strconv.Atoi(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("line %d: importance must be an integer", n.Line)
	}
	v.Set, v.Value = true, i
	return nil
}

type yamlBool bool

func (b *yamlBool) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseBool(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("line %d: expected true or false", n.Line)
	}
	*b = yamlBool(v)
	return nil
}

// ParseNote parses content read from relativePath. The entry type comes
// from frontmatter, then the top-level directory (characters/ becomes
// character), then "lore". skip reports lorebook_skip: true.
func ParseNote(content []byte, relativePath string) (*Note, bool, error) {
	fmText, body := splitFrontmatter(string(content))
	var fm frontmatter
	if fmText != "" {
		if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
			return nil, false, fmt.Errorf("%s: invalid frontmatter: %w", relativePath, err)
		}
	}
	if fm.Skip {
		return nil, true, nil
	}

	title := strings.TrimSpace(fm.Title)
	if title == "" {
		title = extractH1(body)
	}
	if title == "" {
		title = titleFromPath(relativePath)
	}

	entryType := strings.ToLower(strings.TrimSpace(fm.Type))
	if entryType == "" {
		entryType = typeFromPath(relativePath)
	}

	importance := DefaultImportance
	if fm.Importance.Set {
		importance = max(0, min(100, fm.Importance.Value))
	}

	links := ExtractWikiLinks(body)
	tags := mergeTags(fm.Tags, fm.Aliases, extractInlineTags(body))

	return &Note{
		RelativePath: filepath.ToSlash(relativePath),
		Title:        title,
		EntryType:    entryType,
		Content:      cleanBody(StripWikiLinks(body), title),
		Tags:         tags,
		Importance:   importance,
		Links:        links,
	}, false, nil
}

// splitFrontmatter separates a leading --- block from the body. A missing
// closing delimiter means there is no frontmatter.
func splitFrontmatter(text string) (string, string) {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", text
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}
	return "", text
}

func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(name))
}

// typeFromPath singularizes the top-level directory name.
func typeFromPath(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return "lore"
	}
	dir := strings.ToLower(strings.TrimSpace(parts[0]))
	switch {
	case strings.HasSuffix(dir, "ies"):
		dir = strings.TrimSuffix(dir, "ies") + "y"
	case strings.HasSuffix(dir, "s") && !strings.HasSuffix(dir, "ss"):
		dir = strings.TrimSuffix(dir, "s")
	}
	if dir == "" {
		return "lore"
	}
	return dir
}

var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

func extractInlineTags(body string) []string {
	var tags []string
	for _, m := range inlineTagRe.FindAllStringSubmatch(body, -1) {
		tags = append(tags, m[1])
	}
	return tags
}

// mergeTags concatenates the lists, dropping blanks and case-insensitive
// duplicates.
func mergeTags(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, t := range l {
			t = strings.TrimSpace(t)
			key := strings.ToLower(t)
			if t == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}

// cleanBody drops a leading H1 that repeats the title and strips inline
// tag markers.
func cleanBody(body, title string) string {
	body = strings.TrimSpace(body)
	if first, rest, ok := strings.Cut(body, "\n"); strings.HasPrefix(first, "# ") && strings.EqualFold(strings.TrimSpace(first[2:]), title) {
		if ok {
			body = strings.TrimSpace(rest)
		} else {
			body = ""
		}
	}
	return strings.TrimSpace(inlineTagRe.ReplaceAllStringFunc(body, func(m string) string {
		return strings.Replace(m, "#", "", 1)
	}))
}
