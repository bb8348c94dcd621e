package dingtalk

import (
	"fmt"
	"strings"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
)

// NormalizedContent is what a vendor event boils down to: text plus an
// optional media reference that can be exchanged for a download URL.
type NormalizedContent struct {
	Text        string
	MediaRef    string // vendor download code
	MediaType   string // "image", "audio", "video" or "file"
	MessageType string
}

// Placeholder labels for media payloads that carry no usable text.
const (
	placeholderRichText = "[rich text]"
	placeholderPicture  = "[picture]"
	placeholderAudio    = "[audio]"
	placeholderVideo    = "[video]"
)

// ExtractContent normalizes a chatbot callback payload. It never fails:
// unknown message types fall back to whatever text the event carries, or
// a placeholder naming the type.
func ExtractContent(data *chatbot.BotCallbackDataModel) NormalizedContent {
	msgType := data.Msgtype
	if msgType == "" {
		msgType = "text"
	}

	content := contentMap(data)

	switch msgType {
	case "text":
		return NormalizedContent{
			Text:        strings.TrimSpace(data.Text.Content),
			MessageType: msgType,
		}

	case "richText":
		text := extractRichText(content)
		if text == "" {
			text = placeholderRichText
		}
		return NormalizedContent{Text: text, MessageType: msgType}

	case "picture":
		return NormalizedContent{
			Text:        placeholderPicture,
			MediaRef:    contentString(content, "downloadCode"),
			MediaType:   "image",
			MessageType: msgType,
		}

	case "audio":
		// DingTalk attaches a speech-to-text transcript when available.
		text := strings.TrimSpace(contentString(content, "recognition"))
		if text == "" {
			text = placeholderAudio
		}
		return NormalizedContent{
			Text:        text,
			MediaRef:    contentString(content, "downloadCode"),
			MediaType:   "audio",
			MessageType: msgType,
		}

	case "video":
		return NormalizedContent{
			Text:        placeholderVideo,
			MediaRef:    contentString(content, "downloadCode"),
			MediaType:   "video",
			MessageType: msgType,
		}

	case "file":
		label := "[file]"
		if name := contentString(content, "fileName"); name != "" {
			label = fmt.Sprintf("[file: %s]", name)
		}
		return NormalizedContent{
			Text:        label,
			MediaRef:    contentString(content, "downloadCode"),
			MediaType:   "file",
			MessageType: msgType,
		}
	}

	text := strings.TrimSpace(data.Text.Content)
	if text == "" {
		text = fmt.Sprintf("[unsupported message: %s]", msgType)
	}
	return NormalizedContent{Text: text, MessageType: msgType}
}

// extractRichText joins the text segments of a richText payload with no
// separator.
func extractRichText(content map[string]interface{}) string {
	if content == nil {
		return ""
	}
	segments, ok := content["richText"].([]interface{})
	if !ok {
		return ""
	}

	var b strings.Builder
	for _, seg := range segments {
		m, ok := seg.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != "text" {
			continue
		}
		if text, _ := m["text"].(string); text != "" {
			b.WriteString(text)
		}
	}
	return strings.TrimSpace(b.String())
}

func contentMap(data *chatbot.BotCallbackDataModel) map[string]interface{} {
	m, _ := data.Content.(map[string]interface{})
	return m
}

func contentString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// OutboundBody is a composed reply ready for the session webhook.
type OutboundBody struct {
	Kind  string // "text" or "markdown"
	Title string // markdown only
	Text  string
}

const (
	markdownTitleLimit   = 20
	defaultMarkdownTitle = "DingClaw"
)

// markdownChars are the inline characters that push plain text into
// markdown rendering.
const markdownChars = "*_`#[]"

// ComposeOutbound decides between a plain text and a markdown message
// body. forceMarkdown lets the caller skip the heuristic.
func ComposeOutbound(text string, forceMarkdown bool) OutboundBody {
	if !forceMarkdown && !looksLikeMarkdown(text) {
		return OutboundBody{Kind: "text", Text: text}
	}
	return OutboundBody{
		Kind:  "markdown",
		Title: markdownTitle(text),
		Text:  text,
	}
}

func looksLikeMarkdown(text string) bool {
	if strings.Contains(text, "\n") {
		return true
	}
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && strings.ContainsRune("#*>-", rune(trimmed[0])) {
		return true
	}
	return strings.ContainsAny(text, markdownChars)
}

// markdownTitle derives a title from the first line, with leading markdown
// markers stripped and the result capped at 20 runes.
func markdownTitle(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimLeft(strings.TrimSpace(line), "#*-> ")
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultMarkdownTitle
	}
	runes := []rune(line)
	if len(runes) > markdownTitleLimit {
		return string(runes[:markdownTitleLimit])
	}
	return line
}
