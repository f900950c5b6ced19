package persona

import (
	"fmt"
	"strings"
)

// Preferences are the story options that shape compiled guidance.
type Preferences struct {
	// MinimizeSpeechTags drops "he said" attribution in favor of action
	// beats. Voice-acted stories set it because each speaker already has a
	// distinct voice.
	MinimizeSpeechTags bool
	// SoundEffects includes the sound-design section.
	SoundEffects bool
	// VoiceActed includes the voice-acting section.
	VoiceActed bool
}

// Before/after pairs shown to the model for each attribution style.
const (
	minimalTagsExample = `DIALOGUE ATTRIBUTION: minimize speech tags.
Each speaker is voiced, so the listener already knows who is talking.
Use action beats only when the speaker would otherwise be ambiguous.
  Before: "We have to go," Mara said urgently, grabbing his arm.
  After:  Mara grabbed his arm. "We have to go."
  Before: "I'm not afraid," he said bravely.
  After:  "I'm not afraid."`

	richTagsExample = `DIALOGUE ATTRIBUTION: rich delivery descriptors.
Tell the performer how each line is delivered: volume, pace and emotion.
  Before: "We have to go," Mara said.
  After:  "We have to go," Mara whispered, her voice tight with panic.
  Before: "I'm not afraid," he said.
  After:  "I'm not afraid," he said, too quickly, his voice cracking on the last word.`
)

// BuildGuidance compiles p into a prompt fragment for the story generator.
func BuildGuidance(prefs Preferences, p Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "STYLE: %s\n", p.Name)
	writeField(&b, "Pacing", p.Pacing)
	writeField(&b, "Scene structure", p.SceneStructure)
	writeField(&b, "Voice direction", p.VoiceDirection)
	if len(p.SignatureElements) > 0 {
		fmt.Fprintf(&b, "Signature elements: %s\n", strings.Join(p.SignatureElements, "; "))
	}

	if prefs.SoundEffects {
		b.WriteString("\nSOUND DESIGN:\n")
		writeField(&b, "Philosophy", p.SFXPhilosophy)
		writeField(&b, "Ambience", p.SoundDesign.Ambience)
		writeField(&b, "Music", p.SoundDesign.Music)
		writeField(&b, "Silence", p.SoundDesign.Silence)
	}

	if prefs.VoiceActed {
		b.WriteString("\nVOICE ACTING:\n")
		writeField(&b, "Delivery", p.VoiceActing.Delivery)
		writeField(&b, "Emotion", p.VoiceActing.Emotion)
		writeField(&b, "Pauses", p.VoiceActing.Pauses)
	}

	b.WriteString("\n")
	if prefs.MinimizeSpeechTags {
		b.WriteString(minimalTagsExample)
	} else {
		b.WriteString(richTagsExample)
	}
	b.WriteString("\n")
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}
