package line

// Bubble is the small subset of the flex bubble layout the bot uses.
type Bubble struct {
	Title       string
	Subtitle    string
	Lines       []string
	HeaderColor string
	Buttons     []Button
}

type Button struct {
	Action Action
	// Style is "primary", "secondary" or "link".
	Style string
	Color string
}

func (b Bubble) build() map[string]any {
	bubble := map[string]any{"type": "bubble"}

	header := []any{textBox(b.Title, "bold", "lg")}
	if b.Subtitle != "" {
		header = append(header, textBox(b.Subtitle, "regular", "sm"))
	}
	headerBox := map[string]any{"type": "box", "layout": "vertical", "contents": header}
	if b.HeaderColor != "" {
		headerBox["backgroundColor"] = b.HeaderColor
	}
	bubble["header"] = headerBox

	if len(b.Lines) > 0 {
		lines := make([]any, 0, len(b.Lines))
		for _, l := range b.Lines {
			lines = append(lines, textBox(l, "regular", "sm"))
		}
		bubble["body"] = map[string]any{"type": "box", "layout": "vertical", "spacing": "sm", "contents": lines}
	}

	if len(b.Buttons) > 0 {
		buttons := make([]any, 0, len(b.Buttons))
		for _, btn := range b.Buttons {
			style := btn.Style
			if style == "" {
				style = "secondary"
			}
			item := map[string]any{"type": "button", "style": style, "height": "sm", "action": btn.Action}
			if btn.Color != "" {
				item["color"] = btn.Color
			}
			buttons = append(buttons, item)
		}
		bubble["footer"] = map[string]any{"type": "box", "layout": "vertical", "spacing": "sm", "contents": buttons}
	}
	return bubble
}

func textBox(text, weight, size string) map[string]any {
	if text == "" {
		text = " "
	}
	return map[string]any{"type": "text", "text": text, "weight": weight, "size": size, "wrap": true}
}
