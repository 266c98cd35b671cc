package app

import (
	"fmt"
	"net/url"
	"unicode/utf8"

	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
)

const (
	msgWelcomeTitle = "Thanks for adding me!"
	msgWelcomeIntro = "Send me a voice message and I will turn it into a written note."
	msgChangeTarget = "Let's change where your notes go.\n\n" +
		"The current destination will be replaced.\n\n" +
		"👇 Pick a new destination below.\n\n" +
		"To keep the current one, send \"cancel\"."
	msgObsidianUserID     = "This is your User ID. Copy it into the plugin settings in Obsidian."
	msgObsidianSendAny    = "When the plugin is set up, send me any message (\"done\", \"OK\"...) and I will check the link."
	msgWebhookInstruction = "Send the webhook URL (https://...) that should receive your notes."
	msgSetupNothing       = "Your notes will only be shown here in the chat. No destination is linked."
	msgObsidianLinked     = "✅ Obsidian is linked!"
	msgWebhookLinked      = "✅ Webhook is set up!"
	msgSetupNotConfirmed  = "🚫 I can't see the link yet.\nFinish the setup in Obsidian and send me another message."
	msgSetupRequired      = "Please finish the initial setup first.\nChoose how you want to use the bot, or follow the instructions."
	msgInvalidWebhookURL  = "🚫 That URL is not valid. Send a URL starting with https://"
	msgCancelled          = "Cancelled. Nothing was changed."
	msgPromptKept         = "Got it. Keeping the current prompt."
	msgCustomPromptHint   = "✏️ To use your own prompt instead, reply with the prompt text."
	msgModeSelectionTitle = "Choose a summary mode"
	msgSetupCompleteTitle = "Setup complete"
	msgReadyToThink       = "Send me a voice message to get started."
	msgConfirmationTitle  = "Your summary is ready"
	msgDiscarded          = "Discarded."
	msgSessionExpired     = "This summary has expired. Send the voice message again."
	msgSelectionExpired   = "The mode selection has expired.\nRun /prompt again."
	msgSavedToInbox       = "Saved to your inbox (encrypted). Open Obsidian to sync."
	msgSentToWebhook      = "Sent to your webhook."
	msgNoDestination      = "No destination is set up. Register your device from Obsidian, or link a webhook with /change."
	msgConfirmModeOn      = "ON (review before saving)"
	msgConfirmModeOff     = "OFF (save automatically)"

	customPromptEchoLen = 100
	summaryPreviewLen   = 300
)

func systemErrorText(err error) string {
	return "A system error occurred:\n" + err.Error()
}

func confirmModeChangedText(on bool) string {
	mode := msgConfirmModeOff
	if on {
		mode = msgConfirmModeOn
	}
	return fmt.Sprintf("Review-before-save is now %s.", mode)
}

func statusText(hasKey, hasWebhook bool, settings domain.UserSettings) string {
	obsidian := "not linked"
	if hasKey {
		obsidian = "linked"
	}
	webhook := "not set"
	if hasWebhook {
		webhook = "set"
	}
	confirm := "OFF"
	if settings.ConfirmMode {
		confirm = "ON"
	}
	return "[Status]\n" +
		"📱 Obsidian: " + obsidian + "\n" +
		"🔌 Webhook: " + webhook + "\n" +
		"📝 Prompt: " + domain.ModeLabel(settings.EffectiveMode()) + "\n" +
		"✅ Review before saving: " + confirm + "\n\n" +
		"[Commands]\n" +
		" /confirm : toggle review before saving\n" +
		" /prompt : change the summary prompt\n" +
		" /change : change the destination\n\n" +
		"Send a voice message to create a summary."
}

func promptStatusText(settings domain.UserSettings) string {
	custom := settings.CustomPrompt
	if custom == "" {
		custom = "not set (default)"
	}
	return "[Prompt]\n" +
		"Current mode: " + domain.ModeLabel(settings.EffectiveMode()) + "\n" +
		"Custom prompt: " + custom + "\n\n" +
		"👇 Tap a button below to change the mode."
}

// truncate cuts s to n runes and marks the cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

func postbackData(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

func destinationButtons() []line.Button {
	return []line.Button{
		{Action: line.PostbackAction("📱 Obsidian", postbackData("action", "setup_obsidian"), "Use Obsidian"), Style: "primary", Color: "#7C3AED"},
		{Action: line.PostbackAction("🔌 Webhook", postbackData("action", "setup_webhook"), "Use a webhook"), Style: "primary", Color: "#0EA5E9"},
		{Action: line.PostbackAction("💬 Chat only", postbackData("action", "setup_nothing"), "No destination")},
	}
}

// initialSetupMessages is the welcome carousel: what the bot does, then the
// destination picker. Summary modes are offered once a destination is chosen.
func initialSetupMessages() []line.Message {
	welcome := line.Bubble{
		Title: msgWelcomeTitle,
		Lines: []string{
			msgWelcomeIntro,
			"📱 Obsidian: notes are encrypted and synced into your vault.",
			"🔌 Webhook: notes are posted to any URL (Slack, X, your own service).",
			"💬 Chat only: summaries stay in this chat.",
			"After that you pick a summary mode (Memo, Diary, ToDo, Brainstorm). /prompt changes it later.",
		},
		HeaderColor: "#EDE9FE",
	}
	picker := line.Bubble{
		Title:    "Choose a destination",
		Subtitle: "You can change it later with /change",
		Buttons:  destinationButtons(),
	}
	return []line.Message{line.NewFlex("Welcome! Choose where your notes go", welcome, picker)}
}

func changeTargetMessages() []line.Message {
	return []line.Message{
		line.NewText(msgChangeTarget),
		line.NewFlex("Change destination", line.Bubble{
			Title:   "Change destination",
			Buttons: destinationButtons(),
		}),
	}
}

func obsidianInstructionMessages(userID string) []line.Message {
	return []line.Message{
		line.NewText(msgObsidianUserID),
		line.NewText(userID),
		line.NewText(msgObsidianSendAny),
	}
}

func modeSelectionMessage() line.Message {
	modes := domain.Modes()
	buttons := make([]line.Button, 0, len(modes))
	lines := make([]string, 0, len(modes))
	for _, mode := range modes {
		d, _ := domain.LookupMode(mode)
		label := d.Icon + " " + d.Label
		lines = append(lines, fmt.Sprintf("%s (%s): %s", label, d.Sub, d.Description))
		buttons = append(buttons, line.Button{
			Action: line.PostbackAction(label, postbackData("action", "set_mode", "mode", string(mode)), d.Label),
		})
	}
	return line.NewFlex(msgModeSelectionTitle, line.Bubble{
		Title:   msgModeSelectionTitle,
		Lines:   lines,
		Buttons: buttons,
	})
}

func setupCompleteMessage(title, body string) line.Message {
	return line.NewFlex(msgSetupCompleteTitle, line.Bubble{
		Title:       title,
		Lines:       []string{body},
		HeaderColor: "#E8F5E9",
	})
}

func confirmationMessage(summary, sessionID string, mode domain.PromptMode, integration domain.IntegrationType) line.Message {
	bubble := line.Bubble{
		Title:    msgConfirmationTitle,
		Subtitle: "Mode: " + domain.ModeLabel(mode),
		Lines:    []string{truncate(summary, summaryPreviewLen)},
	}
	if d, ok := domain.LookupMode(mode); ok {
		bubble.HeaderColor = d.Color
	}
	var saveLabel string
	switch integration {
	case domain.IntegrationObsidian:
		saveLabel = "Save"
	case domain.IntegrationWebhook:
		saveLabel = "Post"
	}
	if saveLabel != "" {
		bubble.Buttons = []line.Button{
			{Action: line.PostbackAction(saveLabel, postbackData("action", "save", "session_id", sessionID), saveLabel), Style: "primary"},
			{Action: line.PostbackAction("Discard", postbackData("action", "discard", "session_id", sessionID), "Discard")},
		}
	}
	return line.NewFlex(msgConfirmationTitle, bubble)
}
