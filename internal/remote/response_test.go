// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import "testing"

func TestParseBotReply(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want BotReply
	}{
		{
			name: "structured text",
			raw:  `{"response":{"type":"text","text":"hello there"}}`,
			want: BotReply{Kind: ReplyText, Text: "hello there"},
		},
		{
			name: "structured image with url",
			raw:  `{"response":{"type":"image","text":"a capybara","url":"https://example.com/c.png"}}`,
			want: BotReply{Kind: ReplyImage, Text: "a capybara", ImageURL: "https://example.com/c.png"},
		},
		{
			name: "structured image with base64",
			raw:  `{"response":{"type":"image","text":"inline","base64":"aGVsbG8="}}`,
			want: BotReply{Kind: ReplyImage, Text: "inline", ImageData: "aGVsbG8="},
		},
		{
			name: "support contact",
			raw: `{"response":{"type":"support_contact","text":"call us",` +
				`"support_info":{"phone":"+1 555 0100","email":"help@example.com"},` +
				`"show_representative_button":true}}`,
			want: BotReply{
				Kind: ReplySupportContact,
				Text: "call us",
				Support: &SupportContact{
					Phone:                   "+1 555 0100",
					Email:                   "help@example.com",
					RepresentativeAvailable: true,
				},
			},
		},
		{
			name: "legacy image url",
			raw:  "look at this\n!IMAGEURL!https://example.com/w.png",
			want: BotReply{Kind: ReplyImage, Text: "look at this", ImageURL: "https://example.com/w.png"},
		},
		{
			name: "legacy image data",
			raw:  "inline picture\n!IMAGEDATA!aGVsbG8=",
			want: BotReply{Kind: ReplyImage, Text: "inline picture", ImageData: "aGVsbG8="},
		},
		{
			name: "plain text",
			raw:  "just words",
			want: BotReply{Kind: ReplyText, Text: "just words"},
		},
		{
			name: "json without response envelope",
			raw:  `{"something":"else"}`,
			want: BotReply{Kind: ReplyText, Text: `{"something":"else"}`},
		},
		{
			name: "unknown structured type falls back to text",
			raw:  `{"response":{"type":"video","text":"nope"}}`,
			want: BotReply{Kind: ReplyText, Text: `{"response":{"type":"video","text":"nope"}}`},
		},
		{
			name: "empty reply",
			raw:  "",
			want: BotReply{Kind: ReplyText, Text: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseBotReply(tt.raw)
			if got.Kind != tt.want.Kind || got.Text != tt.want.Text ||
				got.ImageURL != tt.want.ImageURL || got.ImageData != tt.want.ImageData {
				t.Errorf("ParseBotReply(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if (got.Support == nil) != (tt.want.Support == nil) {
				t.Fatalf("support presence mismatch: %+v", got.Support)
			}
			if got.Support != nil && *got.Support != *tt.want.Support {
				t.Errorf("support = %+v, want %+v", *got.Support, *tt.want.Support)
			}
		})
	}
}
