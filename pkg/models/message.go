package models

import "encoding/json"

// MetaSending marks a message whose remote create has been issued but not
// yet confirmed. It lives in Meta so the renderer can show a pending state
// without a schema change.
const MetaSending = "sending"

// Message is an immutable value record. Any change produces a new record via
// the With* helpers; the engine never mutates a Message in place.
//
// ID is unique within a store but mutable across the message lifecycle: a
// locally generated id is replaced by the server-assigned id during
// reconciliation. CreatedAt is the client-local creation time (ms since
// epoch UTC, 0 = absent); SentAt is the server-assigned time and is
// authoritative for ordering once present.
type Message struct {
	ID        string
	Author    string
	CreatedAt int64
	SentAt    int64
	Content   Content
	Meta      map[string]string
}

// SortKey is the chronological ordering key: SentAt when present, else
// CreatedAt, else zero.
func (m Message) SortKey() int64 {
	if m.SentAt > 0 {
		return m.SentAt
	}
	if m.CreatedAt > 0 {
		return m.CreatedAt
	}
	return 0
}

// Equal reports whether two records are value-equal.
func (m Message) Equal(o Message) bool {
	if m.ID != o.ID || m.Author != o.Author || m.CreatedAt != o.CreatedAt || m.SentAt != o.SentAt {
		return false
	}
	if (m.Content == nil) != (o.Content == nil) {
		return false
	}
	if m.Content != nil && !m.Content.Equal(o.Content) {
		return false
	}
	if len(m.Meta) != len(o.Meta) {
		return false
	}
	for k, v := range m.Meta {
		if ov, ok := o.Meta[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// CloneMeta returns a copy of the metadata map, never nil.
func (m Message) CloneMeta() map[string]string {
	out := make(map[string]string, len(m.Meta))
	for k, v := range m.Meta {
		out[k] = v
	}
	return out
}

// WithMeta returns a copy of the record carrying the given metadata map.
func (m Message) WithMeta(meta map[string]string) Message {
	m.Meta = meta
	return m
}

// WithSendingFlag returns a copy whose metadata is base plus the sending
// flag. base is copied, not aliased.
func (m Message) WithSendingFlag(base map[string]string) Message {
	meta := make(map[string]string, len(base)+1)
	for k, v := range base {
		meta[k] = v
	}
	meta[MetaSending] = "true"
	m.Meta = meta
	return m
}

// WithContent returns a copy carrying the given content.
func (m Message) WithContent(c Content) Message {
	m.Content = c
	return m
}

// WithServerIdentity returns the server-confirmed version of the record:
// server id, cleared local CreatedAt, authoritative SentAt, and the caller's
// pre-send metadata restored.
func (m Message) WithServerIdentity(id string, sentAt int64, meta map[string]string) Message {
	m.ID = id
	m.CreatedAt = 0
	m.SentAt = sentAt
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	m.Meta = out
	return m
}

// messageJSON is the storage/wire shape of a Message.
type messageJSON struct {
	ID        string            `json:"id"`
	Author    string            `json:"author,omitempty"`
	CreatedAt int64             `json:"created_at,omitempty"`
	SentAt    int64             `json:"sent_at,omitempty"`
	Content   json.RawMessage   `json:"content,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	raw, err := marshalContent(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		ID:        m.ID,
		Author:    m.Author,
		CreatedAt: m.CreatedAt,
		SentAt:    m.SentAt,
		Content:   raw,
		Meta:      m.Meta,
	})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(b, &mj); err != nil {
		return err
	}
	c, err := unmarshalContent(mj.Content)
	if err != nil {
		return err
	}
	m.ID = mj.ID
	m.Author = mj.Author
	m.CreatedAt = mj.CreatedAt
	m.SentAt = mj.SentAt
	m.Content = c
	m.Meta = mj.Meta
	return nil
}
