package line

import "net/url"

// MaxReplyMessages is the number of messages one reply call may carry.
const MaxReplyMessages = 5

// Message is an outbound message object (text or flex).
type Message struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	AltText  string `json:"altText,omitempty"`
	Contents any    `json:"contents,omitempty"`
}

// Action is a postback action attached to a button.
type Action struct {
	Type        string `json:"type"`
	Label       string `json:"label"`
	Data        string `json:"data"`
	DisplayText string `json:"displayText,omitempty"`
}

// NewText builds a plain text message.
func NewText(text string) Message {
	return Message{Type: "text", Text: text}
}

// NewFlex wraps one bubble, or a carousel of several, into a flex message.
func NewFlex(altText string, bubbles ...Bubble) Message {
	var contents any
	if len(bubbles) == 1 {
		contents = bubbles[0].build()
	} else {
		items := make([]any, 0, len(bubbles))
		for _, b := range bubbles {
			items = append(items, b.build())
		}
		contents = map[string]any{"type": "carousel", "contents": items}
	}
	return Message{Type: "flex", AltText: altText, Contents: contents}
}

// PostbackAction builds a postback action whose data is encoded as a URL query.
func PostbackAction(label string, data url.Values, displayText string) Action {
	return Action{Type: "postback", Label: label, Data: data.Encode(), DisplayText: displayText}
}
