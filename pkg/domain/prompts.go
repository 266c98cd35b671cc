package domain

import "strings"

// ModeDetails describes a selectable (non-custom) summarization mode.
type ModeDetails struct {
	Label       string
	Icon        string
	Sub         string
	Description string
	Color       string
	Prompt      string
}

const basePrompt = `You are an expert secretary who turns spoken voice memos into written notes.
The input is raw speech, so it may contain fillers, restarts and disfluencies: remove them
and keep only the information that matters.
Reply in the language the speaker used. Output plain Markdown without a preamble.`

var modeOrder = []PromptMode{ModeMemo, ModeDiary, ModeToDo, ModeBrainstorm}

var modeDetails = map[PromptMode]ModeDetails{
	ModeMemo: {
		Label:       "Memo",
		Icon:        "📝",
		Sub:         "default",
		Description: "A short title, a bullet summary and any action items.",
		Color:       "#F5F5F5",
		Prompt: `Output format:
- **Title**: a short, representative title.
- **Summary**: concise bullet points.
- **Action Items**: tasks or to-dos that were mentioned, if any.`,
	},
	ModeDiary: {
		Label:       "Diary",
		Icon:        "📔",
		Sub:         "reflect",
		Description: "A first-person journal entry about the day and how it felt.",
		Color:       "#FFF8E1",
		Prompt: `Write a first-person diary entry.
- Start with a one-line headline for the day.
- Describe what happened in chronological order.
- Close with feelings, insights or lessons the speaker expressed.`,
	},
	ModeToDo: {
		Label:       "ToDo",
		Icon:        "✅",
		Sub:         "tasks",
		Description: "Only the actionable tasks, as a checklist.",
		Color:       "#E8F5E9",
		Prompt: `Extract only actionable tasks.
- Output a Markdown checklist ("- [ ] task").
- Include due dates, people and places when they were mentioned.
- If nothing actionable was said, reply "No tasks found."`,
	},
	ModeBrainstorm: {
		Label:       "Brainstorm",
		Icon:        "💡",
		Sub:         "ideas",
		Description: "Ideas grouped by theme with follow-up questions.",
		Color:       "#E3F2FD",
		Prompt: `Organize the ideas that were spoken.
- Group related ideas under short theme headings.
- Keep unusual or half-formed ideas; do not judge them.
- End with three open questions that would push the thinking further.`,
	},
}

// Modes returns the selectable modes in display order.
func Modes() []PromptMode {
	out := make([]PromptMode, len(modeOrder))
	copy(out, modeOrder)
	return out
}

// LookupMode reports the details for a selectable mode. Custom is not selectable.
func LookupMode(mode PromptMode) (ModeDetails, bool) {
	d, ok := modeDetails[mode]
	return d, ok
}

// ModeLabel returns the display label, "Custom" for the custom mode.
func ModeLabel(mode PromptMode) string {
	if mode == ModeCustom {
		return "Custom"
	}
	if d, ok := modeDetails[mode]; ok {
		return d.Label
	}
	return modeDetails[ModeMemo].Label
}

// SystemPrompt resolves the system instruction sent with the audio.
func SystemPrompt(mode PromptMode, custom string) string {
	if mode == ModeCustom {
		if custom = strings.TrimSpace(custom); custom != "" {
			return basePrompt + "\n\n" + custom
		}
		mode = ModeMemo
	}
	d, ok := modeDetails[mode]
	if !ok {
		d = modeDetails[ModeMemo]
	}
	return basePrompt + "\n\n" + d.Prompt
}
