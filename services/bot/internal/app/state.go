package app

import (
	"strings"
	"time"

	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
)

// Ephemeral key layout and lifetimes.
const (
	setupStatePrefix  = "setup_state:"
	promptStatePrefix = "prompt_setting_state:"
	sessionPrefix     = "session:"
	userSessionPrefix = "user_sessions:"

	promptStateWaiting = "waiting"

	obsidianSetupTTL  = 24 * time.Hour
	webhookSetupTTL   = time.Hour
	changeTargetTTL   = 5 * time.Minute
	promptSettingTTL  = 5 * time.Minute
	pendingSummaryTTL = 10 * time.Minute
)

func setupStateKey(userID string) string  { return setupStatePrefix + userID }
func promptStateKey(userID string) string { return promptStatePrefix + userID }
func sessionKey(sessionID string) string  { return sessionPrefix + sessionID }

// userSessionsKey indexes a user's pending session ids (comma separated) so
// unfollow can find them.
func userSessionsKey(userID string) string { return userSessionPrefix + userID }

func setupTTL(s domain.SetupState) time.Duration {
	switch s {
	case domain.SetupWaitingForObsidian:
		return obsidianSetupTTL
	case domain.SetupWaitingForWebhook:
		return webhookSetupTTL
	default:
		return changeTargetTTL
	}
}

// Flow names the branch of the conversation that handles one event.
type Flow int

const (
	FlowIgnore Flow = iota
	FlowFollow
	FlowUnfollow
	FlowOnboarding
	FlowPromptInput
	FlowCommand
	FlowSummarize
	FlowPostback
)

func (f Flow) String() string {
	switch f {
	case FlowFollow:
		return "follow"
	case FlowUnfollow:
		return "unfollow"
	case FlowOnboarding:
		return "onboarding"
	case FlowPromptInput:
		return "prompt_input"
	case FlowCommand:
		return "command"
	case FlowSummarize:
		return "summarize"
	case FlowPostback:
		return "postback"
	default:
		return "ignore"
	}
}

// Snapshot is the per-user state read from both stores before routing.
type Snapshot struct {
	Integration   domain.IntegrationType
	HasSettings   bool
	SetupState    domain.SetupState
	PromptPending bool
}

// SetupDone reports whether onboarding has completed at least once.
func (s Snapshot) SetupDone() bool {
	return (s.Integration != "" && s.Integration != domain.IntegrationNone) || s.HasSettings
}

// Decision is the routing result for one event.
type Decision struct {
	Flow       Flow
	SetupState domain.SetupState
}

// Resolve picks the flow for ev. It has no side effects.
func Resolve(ev line.Event, snap Snapshot) Decision {
	switch ev.Type {
	case line.EventFollow:
		return Decision{Flow: FlowFollow}
	case line.EventUnfollow:
		return Decision{Flow: FlowUnfollow}
	}
	if ev.UserID() == "" {
		return Decision{Flow: FlowIgnore}
	}
	if !snap.SetupDone() || snap.SetupState != domain.SetupNone {
		return Decision{Flow: FlowOnboarding, SetupState: snap.SetupState}
	}
	switch ev.Type {
	case line.EventMessage:
		if ev.Message == nil {
			return Decision{Flow: FlowIgnore}
		}
		switch ev.Message.Type {
		case line.MessageText:
			if snap.PromptPending {
				return Decision{Flow: FlowPromptInput}
			}
			return Decision{Flow: FlowCommand}
		case line.MessageAudio:
			return Decision{Flow: FlowSummarize}
		}
	case line.EventPostback:
		if ev.Postback != nil {
			return Decision{Flow: FlowPostback}
		}
	}
	return Decision{Flow: FlowIgnore}
}

func isLifecycle(ev line.Event) bool {
	return ev.Type == line.EventFollow || ev.Type == line.EventUnfollow
}

// Keyword sets are matched against trimmed, lower-cased text.
var (
	setupCancelKeywords  = keywordSet("キャンセル", "cancel", "戻る", "やめる", "back", "never mind")
	promptCancelKeywords = keywordSet("キャンセル", "変更なし", "変更しない", "cancel")
	promptKeepKeywords   = keywordSet("ok", "確認", "keep")
)

const (
	cmdConfirm      = "/confirm"
	cmdConfirmAlias = "投稿前確認モード"
	cmdPrompt       = "/prompt"
	cmdChange       = "/change"
	cmdChangeAlias  = "変更"
)

func keywordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

func matches(set map[string]struct{}, text string) bool {
	_, ok := set[strings.ToLower(strings.TrimSpace(text))]
	return ok
}
