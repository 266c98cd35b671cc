package line

import (
	"encoding/json"
	"errors"
	"net/url"
)

// Event types delivered to the webhook.
const (
	EventMessage  = "message"
	EventPostback = "postback"
	EventFollow   = "follow"
	EventUnfollow = "unfollow"
)

// Message content types.
const (
	MessageText  = "text"
	MessageAudio = "audio"
)

// WebhookBody is one delivered batch.
type WebhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

type Event struct {
	Type           string          `json:"type"`
	Mode           string          `json:"mode,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	WebhookEventID string          `json:"webhookEventId,omitempty"`
	ReplyToken     string          `json:"replyToken,omitempty"`
	Source         Source          `json:"source"`
	Message        *MessageContent `json:"message,omitempty"`
	Postback       *Postback       `json:"postback,omitempty"`
	Delivery       *Delivery       `json:"deliveryContext,omitempty"`
}

type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// MessageContent is the message object of a "message" event.
type MessageContent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

type Postback struct {
	Data string `json:"data"`
}

type Delivery struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// ParseWebhookBody decodes a batch. A body without an events array is invalid.
func ParseWebhookBody(body []byte) (WebhookBody, error) {
	var raw struct {
		Destination string           `json:"destination"`
		Events      *json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookBody{}, err
	}
	if raw.Events == nil {
		return WebhookBody{}, errors.New("webhook body has no events")
	}
	out := WebhookBody{Destination: raw.Destination}
	if err := json.Unmarshal(*raw.Events, &out.Events); err != nil {
		return WebhookBody{}, err
	}
	return out, nil
}

// UserID returns the sender, empty for group/room events without one.
func (e Event) UserID() string {
	return e.Source.UserID
}

// PostbackValues parses postback data as a URL query.
func (e Event) PostbackValues() url.Values {
	if e.Postback == nil {
		return url.Values{}
	}
	values, err := url.ParseQuery(e.Postback.Data)
	if err != nil {
		return url.Values{}
	}
	return values
}
