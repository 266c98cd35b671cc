package app

import (
	"testing"

	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
)

func TestResolve(t *testing.T) {
	user := line.Source{Type: "user", UserID: "U1"}
	text := line.Event{Type: line.EventMessage, Source: user, Message: &line.MessageContent{ID: "m1", Type: line.MessageText, Text: "hi"}}
	audio := line.Event{Type: line.EventMessage, Source: user, Message: &line.MessageContent{ID: "m2", Type: line.MessageAudio}}
	image := line.Event{Type: line.EventMessage, Source: user, Message: &line.MessageContent{ID: "m3", Type: "image"}}
	postback := line.Event{Type: line.EventPostback, Source: user, Postback: &line.Postback{Data: "action=discard&session_id=s"}}
	follow := line.Event{Type: line.EventFollow, Source: user}
	unfollow := line.Event{Type: line.EventUnfollow, Source: user}
	join := line.Event{Type: "join", Source: user}

	ready := Snapshot{Integration: domain.IntegrationNone, HasSettings: true}
	webhookOnly := Snapshot{Integration: domain.IntegrationWebhook}
	fresh := Snapshot{Integration: domain.IntegrationNone}

	tests := []struct {
		name  string
		ev    line.Event
		snap  Snapshot
		want  Flow
		setup domain.SetupState
	}{
		{name: "follow ignores state", ev: follow, snap: Snapshot{SetupState: domain.SetupWaitingForWebhook}, want: FlowFollow},
		{name: "unfollow ignores state", ev: unfollow, snap: ready, want: FlowUnfollow},
		{name: "fresh user text onboards", ev: text, snap: fresh, want: FlowOnboarding},
		{name: "fresh user audio onboards", ev: audio, snap: fresh, want: FlowOnboarding},
		{name: "pending setup wins over settings", ev: text, snap: Snapshot{HasSettings: true, SetupState: domain.SetupChangingTarget}, want: FlowOnboarding, setup: domain.SetupChangingTarget},
		{name: "integration alone completes setup", ev: text, snap: webhookOnly, want: FlowCommand},
		{name: "text runs commands", ev: text, snap: ready, want: FlowCommand},
		{name: "text while prompt pending", ev: text, snap: Snapshot{HasSettings: true, PromptPending: true}, want: FlowPromptInput},
		{name: "audio summarizes", ev: audio, snap: ready, want: FlowSummarize},
		{name: "audio while prompt pending still summarizes", ev: audio, snap: Snapshot{HasSettings: true, PromptPending: true}, want: FlowSummarize},
		{name: "postback", ev: postback, snap: ready, want: FlowPostback},
		{name: "other message kinds ignored", ev: image, snap: ready, want: FlowIgnore},
		{name: "other events ignored after setup", ev: join, snap: ready, want: FlowIgnore},
		{name: "other events onboard before setup", ev: join, snap: fresh, want: FlowOnboarding},
		{name: "events without user ignored", ev: line.Event{Type: line.EventMessage, Source: line.Source{Type: "group", GroupID: "G"}, Message: text.Message}, snap: ready, want: FlowIgnore},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.ev, tc.snap)
			if got.Flow != tc.want {
				t.Fatalf("flow = %s, want %s", got.Flow, tc.want)
			}
			if got.SetupState != tc.setup {
				t.Fatalf("setup state = %q, want %q", got.SetupState, tc.setup)
			}
		})
	}
}

func TestSnapshotSetupDone(t *testing.T) {
	if (Snapshot{}).SetupDone() {
		t.Fatalf("empty snapshot must not be set up")
	}
	if (Snapshot{Integration: domain.IntegrationNone}).SetupDone() {
		t.Fatalf("integration none without settings must not be set up")
	}
	if !(Snapshot{Integration: domain.IntegrationObsidian}).SetupDone() {
		t.Fatalf("public key completes setup")
	}
	if !(Snapshot{Integration: domain.IntegrationNone, HasSettings: true}).SetupDone() {
		t.Fatalf("settings row completes setup")
	}
}

func TestKeywordMatching(t *testing.T) {
	if !matches(setupCancelKeywords, "  Cancel ") || !matches(setupCancelKeywords, "やめる") {
		t.Fatalf("cancel keywords should match trimmed, case-folded text")
	}
	if !matches(promptKeepKeywords, "OK") || !matches(promptKeepKeywords, "ok") {
		t.Fatalf("keep keywords should match OK in any case")
	}
	if matches(promptCancelKeywords, "cancel it") {
		t.Fatalf("keywords must match the whole text")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("あいうえおかきくけこ", 5); got != "あいうえお..." {
		t.Fatalf("truncate runes = %q", got)
	}
}
