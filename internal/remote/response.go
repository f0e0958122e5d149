// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// BOT REPLY PARSING
// =============================================================================

// ReplyKind classifies what a backend reply carries.
type ReplyKind int

const (
	// ReplyText is a plain text answer.
	ReplyText ReplyKind = iota

	// ReplyImage is text plus an image, by URL or inline base64.
	ReplyImage

	// ReplySupportContact is text plus support contact details and an
	// optional offer to hand over to a live representative.
	ReplySupportContact
)

// SupportContact carries the details surfaced by a support_contact reply.
type SupportContact struct {
	Phone                   string
	Email                   string
	RepresentativeAvailable bool
}

// BotReply is the parsed form of a backend reply. Exactly one kind is set;
// Text is always populated.
type BotReply struct {
	Kind      ReplyKind
	Text      string
	ImageURL  string
	ImageData string
	Support   *SupportContact
}

// structuredReply mirrors the backend's JSON envelope.
type structuredReply struct {
	Response *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		URL         string `json:"url"`
		Base64      string `json:"base64"`
		SupportInfo *struct {
			Phone string `json:"phone"`
			Email string `json:"email"`
		} `json:"support_info"`
		ShowRepresentativeButton bool `json:"show_representative_button"`
	} `json:"response"`
}

// Legacy inline-image delimiters predating the JSON envelope.
const (
	imageURLDelimiter  = "!IMAGEURL!"
	imageDataDelimiter = "!IMAGEDATA!"
)

// ParseBotReply interprets a raw backend reply. It first tries the JSON
// envelope, then the legacy inline-image delimiters, and finally treats the
// whole string as plain text. It never fails; an unparseable reply is still
// a text reply.
func ParseBotReply(raw string) BotReply {
	if reply, ok := parseStructured(raw); ok {
		return reply
	}
	return parseLegacy(raw)
}

func parseStructured(raw string) (BotReply, bool) {
	var envelope structuredReply
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil || envelope.Response == nil {
		return BotReply{}, false
	}

	r := envelope.Response
	switch r.Type {
	case "text":
		return BotReply{Kind: ReplyText, Text: r.Text}, true

	case "image":
		return BotReply{
			Kind:      ReplyImage,
			Text:      r.Text,
			ImageURL:  r.URL,
			ImageData: r.Base64,
		}, true

	case "support_contact":
		reply := BotReply{Kind: ReplySupportContact, Text: r.Text}
		if r.SupportInfo != nil {
			reply.Support = &SupportContact{
				Phone:                   r.SupportInfo.Phone,
				Email:                   r.SupportInfo.Email,
				RepresentativeAvailable: r.ShowRepresentativeButton,
			}
		}
		return reply, true
	}

	// Valid JSON with an unknown type falls through to the legacy parser.
	return BotReply{}, false
}

func parseLegacy(raw string) BotReply {
	if before, after, found := strings.Cut(raw, imageURLDelimiter); found {
		return BotReply{
			Kind:     ReplyImage,
			Text:     strings.TrimSpace(before),
			ImageURL: strings.TrimSpace(after),
		}
	}
	if before, after, found := strings.Cut(raw, imageDataDelimiter); found {
		return BotReply{
			Kind:      ReplyImage,
			Text:      strings.TrimSpace(before),
			ImageData: strings.TrimSpace(after),
		}
	}
	return BotReply{Kind: ReplyText, Text: raw}
}
