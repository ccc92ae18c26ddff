package models

import (
	"encoding/json"
	"fmt"
)

// ContentKind tags the closed set of message content variants. Sites that
// branch on content must switch exhaustively over these values.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
)

// Content is one variant of message content. Implementations are value
// types; Equal compares by value.
type Content interface {
	Kind() ContentKind
	Equal(other Content) bool
}

// TextContent is plain message text.
type TextContent struct {
	Text string `json:"text"`
}

func (TextContent) Kind() ContentKind { return KindText }

func (c TextContent) Equal(other Content) bool {
	o, ok := other.(TextContent)
	return ok && o.Text == c.Text
}

// ImageContent references image bytes by a source locator: a local path or
// cache key before upload, a remote-addressable locator ("blob:<id>") after.
// Width/Height may be filled in late by the renderer once decoded.
type ImageContent struct {
	Source string `json:"source"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (ImageContent) Kind() ContentKind { return KindImage }

func (c ImageContent) Equal(other Content) bool {
	o, ok := other.(ImageContent)
	return ok && o == c
}

// contentEnvelope is the wire/storage encoding of the union: a kind tag next
// to the flattened variant fields.
type contentEnvelope struct {
	Kind   ContentKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Source string      `json:"source,omitempty"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
}

func marshalContent(c Content) (json.RawMessage, error) {
	if c == nil {
		return nil, nil
	}
	var env contentEnvelope
	switch v := c.(type) {
	case TextContent:
		env = contentEnvelope{Kind: KindText, Text: v.Text}
	case ImageContent:
		env = contentEnvelope{Kind: KindImage, Source: v.Source, Width: v.Width, Height: v.Height}
	default:
		return nil, fmt.Errorf("unknown content kind %T", c)
	}
	return json.Marshal(env)
}

func unmarshalContent(raw json.RawMessage) (Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env contentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid content JSON: %w", err)
	}
	switch env.Kind {
	case KindText:
		return TextContent{Text: env.Text}, nil
	case KindImage:
		return ImageContent{Source: env.Source, Width: env.Width, Height: env.Height}, nil
	default:
		return nil, fmt.Errorf("unknown content kind %q", env.Kind)
	}
}
