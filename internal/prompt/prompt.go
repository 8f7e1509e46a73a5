// Package prompt builds the instructions sent to the generator.
//
// The instruction text is organised under fixed section headings. Models
// occasionally echo those headings into their reply, so [Markers] lists
// them for the repair pipeline's leak check.
package prompt

import (
	"fmt"
	"strings"
)

// Section headings used in the turn instruction.
const (
	HeadingUser      = "【USER】"
	HeadingAgent     = "【AGENT】"
	HeadingSuggested = "【SUGGESTED】"
	HeadingFeedback  = "【FEEDBACK】"
)

// Markers returns the structural markers that must not appear in a reply.
func Markers() []string {
	return []string{HeadingUser, HeadingAgent, HeadingSuggested, HeadingFeedback}
}

// Scene describes where the role-play takes place.
type Scene struct {
	ID      string
	Label   string
	Context string
}

// Persona describes who the agent plays.
type Persona struct {
	ID          string
	Label       string
	Description string
}

// TurnContext carries everything the turn instruction depends on.
type TurnContext struct {
	Scene    Scene
	Persona  Persona
	Category string

	// MaxChars and MaxSentences bound the agent reply.
	MaxChars     int
	MaxSentences int
}

// Exchange is one earlier line of the conversation.
type Exchange struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Content is the structured user payload of a turn request.
type Content struct {
	Message string     `json:"message"`
	History []Exchange `json:"history,omitempty"`
}

// Builder renders instructions for one target language. It is immutable
// and safe for concurrent use.
type Builder struct {
	language string
}

// NewBuilder returns a Builder translating into language (for example
// "Indonesian").
func NewBuilder(language string) *Builder {
	if language == "" {
		language = "Indonesian"
	}
	return &Builder{language: language}
}

// Language returns the translation target language.
func (b *Builder) Language() string { return b.language }

// System renders the turn instruction.
func (b *Builder) System(tc TurnContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a role-play partner for a foreign care worker practising Japanese at a care facility.\n")
	fmt.Fprintf(&sb, "Scene: %s", tc.Scene.Label)
	if tc.Scene.Context != "" {
		fmt.Fprintf(&sb, " (%s)", tc.Scene.Context)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "You play: %s", tc.Persona.Label)
	if tc.Persona.Description != "" {
		fmt.Fprintf(&sb, " (%s)", tc.Persona.Description)
	}
	sb.WriteString("\n")
	if tc.Category != "" {
		fmt.Fprintf(&sb, "Practice category: %s\n", tc.Category)
	}
	sb.WriteString("\nEvery utterance is a triple: script (natural spoken Japanese, mostly hiragana), ")
	fmt.Fprintf(&sb, "romanization (Hepburn romaji of the script) and translation (%s).\n\n", b.language)

	fmt.Fprintf(&sb, "%s\nThe trainee's message, corrected into natural Japanese.\n\n", HeadingUser)
	fmt.Fprintf(&sb, "%s\nYour in-character reply. At most %d sentences and %d characters. Stay on the scene.\n\n",
		HeadingAgent, tc.MaxSentences, tc.MaxChars)
	fmt.Fprintf(&sb, "%s\nA model answer the trainee could say next.\n\n", HeadingSuggested)
	fmt.Fprintf(&sb, "%s\nOne short piece of advice in %s.\n\n", HeadingFeedback, b.language)

	sb.WriteString("Answer with one JSON object only, no markdown and no section headings:\n")
	sb.WriteString(`{"user":{"script":"","romanization":"","translation":""},`)
	sb.WriteString(`"agent":{"script":"","romanization":"","translation":""},`)
	sb.WriteString(`"suggested":{"script":"","romanization":"","translation":""},`)
	sb.WriteString(`"feedback":"","annotations":[{"term":"","reading":"","meaning":""}],`)
	sb.WriteString(`"score":{"politeness":0,"clarity":0,"comment":""}}`)
	return sb.String()
}

// RepairInstruction is appended to the original instruction for the single
// structural retry. reasons are the human-readable rejection reasons.
func RepairInstruction(reasons []string, maxChars, maxSentences int) string {
	var sb strings.Builder
	sb.WriteString("\n\nYOUR PREVIOUS ANSWER WAS REJECTED")
	if len(reasons) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(reasons, "; "))
	}
	sb.WriteString(".\n")
	sb.WriteString("Return the complete JSON object again. Every script, romanization and translation must be filled in. ")
	fmt.Fprintf(&sb, "The agent script must be at most %d sentences and %d characters. ", maxSentences, maxChars)
	fmt.Fprintf(&sb, "Do not include the headings %s.", strings.Join(Markers(), " "))
	return sb.String()
}

// BackfillSystem renders the instruction for a batched backfill call.
func (b *Builder) BackfillSystem() string {
	var sb strings.Builder
	sb.WriteString("You receive a JSON object mapping ids to Japanese sentences.\n")
	fmt.Fprintf(&sb, "For every id return the %s translation and the Hepburn romaji reading.\n", b.language)
	sb.WriteString(`Answer with one JSON object only: {"items":{"<id>":{"translation":"","romanization":""}}}`)
	sb.WriteString("\nKeep every id exactly as given. Do not add ids.")
	return sb.String()
}
