package dingtalk

import (
	"strings"
	"testing"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
)

func TestExtractContentText(t *testing.T) {
	data := &chatbot.BotCallbackDataModel{Msgtype: "text"}
	data.Text.Content = "  hello world  "

	got := ExtractContent(data)
	if got.Text != "hello world" {
		t.Errorf("Text = %q, want %q", got.Text, "hello world")
	}
	if got.MediaRef != "" {
		t.Errorf("MediaRef = %q, want empty", got.MediaRef)
	}
}

func TestExtractContentEmptyMsgtypeDefaultsToText(t *testing.T) {
	data := &chatbot.BotCallbackDataModel{}
	data.Text.Content = "hi"

	got := ExtractContent(data)
	if got.MessageType != "text" || got.Text != "hi" {
		t.Errorf("got %+v, want text/hi", got)
	}
}

func TestExtractContentRichText(t *testing.T) {
	data := &chatbot.BotCallbackDataModel{
		Msgtype: "richText",
		Content: map[string]interface{}{
			"richText": []interface{}{
				map[string]interface{}{"type": "text", "text": "hello "},
				map[string]interface{}{"type": "picture", "downloadCode": "dc1"},
				map[string]interface{}{"type": "text", "text": "world"},
			},
		},
	}

	got := ExtractContent(data)
	if got.Text != "hello world" {
		t.Errorf("Text = %q, want %q", got.Text, "hello world")
	}
}

func TestExtractContentRichTextNoSegments(t *testing.T) {
	data := &chatbot.BotCallbackDataModel{
		Msgtype: "richText",
		Content: map[string]interface{}{},
	}

	got := ExtractContent(data)
	if got.Text != "[rich text]" {
		t.Errorf("Text = %q, want placeholder", got.Text)
	}
}

func TestExtractContentMedia(t *testing.T) {
	tests := []struct {
		name      string
		msgtype   string
		content   map[string]interface{}
		wantText  string
		wantRef   string
		wantMedia string
	}{
		{
			name:      "picture",
			msgtype:   "picture",
			content:   map[string]interface{}{"downloadCode": "dc-pic"},
			wantText:  "[picture]",
			wantRef:   "dc-pic",
			wantMedia: "image",
		},
		{
			name:      "audio with recognition",
			msgtype:   "audio",
			content:   map[string]interface{}{"downloadCode": "dc-au", "recognition": "turn on the light"},
			wantText:  "turn on the light",
			wantRef:   "dc-au",
			wantMedia: "audio",
		},
		{
			name:      "audio without recognition",
			msgtype:   "audio",
			content:   map[string]interface{}{"downloadCode": "dc-au"},
			wantText:  "[audio]",
			wantRef:   "dc-au",
			wantMedia: "audio",
		},
		{
			name:      "video",
			msgtype:   "video",
			content:   map[string]interface{}{"downloadCode": "dc-vid"},
			wantText:  "[video]",
			wantRef:   "dc-vid",
			wantMedia: "video",
		},
		{
			name:      "file with name",
			msgtype:   "file",
			content:   map[string]interface{}{"downloadCode": "dc-f", "fileName": "report.pdf"},
			wantText:  "[file: report.pdf]",
			wantRef:   "dc-f",
			wantMedia: "file",
		},
		{
			name:      "file without name",
			msgtype:   "file",
			content:   map[string]interface{}{"downloadCode": "dc-f"},
			wantText:  "[file]",
			wantRef:   "dc-f",
			wantMedia: "file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := &chatbot.BotCallbackDataModel{
				Msgtype: tt.msgtype,
				Content: tt.content,
			}
			got := ExtractContent(data)
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
			if got.MediaRef != tt.wantRef {
				t.Errorf("MediaRef = %q, want %q", got.MediaRef, tt.wantRef)
			}
			if got.MediaType != tt.wantMedia {
				t.Errorf("MediaType = %q, want %q", got.MediaType, tt.wantMedia)
			}
		})
	}
}

func TestExtractContentUnknownType(t *testing.T) {
	data := &chatbot.BotCallbackDataModel{Msgtype: "sticker"}

	got := ExtractContent(data)
	if got.Text != "[unsupported message: sticker]" {
		t.Errorf("Text = %q", got.Text)
	}

	data.Text.Content = "fallback text"
	got = ExtractContent(data)
	if got.Text != "fallback text" {
		t.Errorf("Text = %q, want fallback text", got.Text)
	}
}

func TestComposeOutbound(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		force     bool
		wantKind  string
		wantTitle string
	}{
		{"plain text", "hello world", false, "text", ""},
		{"multiline", "line one\nline two", false, "markdown", "line one"},
		{"heading prefix", "# Result", false, "markdown", "Result"},
		{"list prefix", "- item", false, "markdown", "item"},
		{"quote prefix", "> quoted", false, "markdown", "quoted"},
		{"inline backtick", "run `ls` now", false, "markdown", "run `ls` now"},
		{"forced", "hello", true, "markdown", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComposeOutbound(tt.text, tt.force)
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if tt.wantKind == "markdown" && got.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", got.Title, tt.wantTitle)
			}
			if got.Text != tt.text {
				t.Errorf("Text = %q, body must pass through unchanged", got.Text)
			}
		})
	}
}

func TestMarkdownTitleCapped(t *testing.T) {
	long := strings.Repeat("领", 30)
	title := markdownTitle(long)
	if got := len([]rune(title)); got != markdownTitleLimit {
		t.Errorf("title rune length = %d, want %d", got, markdownTitleLimit)
	}
}

func TestMarkdownTitleFallback(t *testing.T) {
	if got := markdownTitle("### \nbody"); got != defaultMarkdownTitle {
		t.Errorf("title = %q, want default", got)
	}
}
