package media

import (
	"regexp"
	"strings"
)

// intenseWords are stripped from the softened tier.
var intenseWords = regexp.MustCompile(`(?i)\b(blood(y|ied)?|gor(e|y)|gruesome|graphic|violen(t|ce)|brutal(ly)?|kill(s|ed|ing)?|murder(s|ed|ing)?|slaughter(ed)?|corpses?|dead bod(y|ies)|torture[ds]?|wound(s|ed)?|stab(s|bed|bing)?|decapitat\w*|dismember\w*|naked|nude|sexual|explicit|sensual|seductive|terrifying|horrific)\b`)

var spaces = regexp.MustCompile(`\s{2,}`)

const abstractPrefix = "A symbolic, painterly illustration evoking the mood of this scene, with no people in distress: "

// abstractLimit bounds the scene summary carried into the abstract tier.
const abstractLimit = 240

// PromptLadder returns the as-given, softened and abstract prompts in the
// order they are tried. Tiers that would repeat the previous one are kept
// so the tier number stays meaningful in logs.
func PromptLadder(prompt string) []string {
	prompt = strings.TrimSpace(prompt)
	soft := Soften(prompt)
	return []string{prompt, soft, Abstract(soft)}
}

// Soften removes graphic and sexual intensity words.
func Soften(prompt string) string {
	s := intenseWords.ReplaceAllString(prompt, "")
	s = spaces.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, " ,", ",")
	s = strings.ReplaceAll(s, " .", ".")
	return strings.TrimSpace(s)
}

// Abstract turns a prompt into a mood piece built from its first sentence.
func Abstract(prompt string) string {
	scene := strings.TrimSpace(prompt)
	if i := strings.IndexAny(scene, ".!?"); i > 0 {
		scene = scene[:i]
	}
	if r := []rune(scene); len(r) > abstractLimit {
		scene = strings.TrimSpace(string(r[:abstractLimit]))
	}
	return abstractPrefix + scene
}
