package models

import (
	"encoding/json"
	"testing"
)

func TestSortKeyPrecedence(t *testing.T) {
	cases := []struct {
		name string
		m    Message
		want int64
	}{
		{"sentat wins", Message{CreatedAt: 100, SentAt: 50}, 50},
		{"createdat fallback", Message{CreatedAt: 100}, 100},
		{"neither", Message{}, 0},
	}
	for _, tc := range cases {
		if got := tc.m.SortKey(); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestEqualComparesByValue(t *testing.T) {
	a := Message{ID: "m1", Author: "a", CreatedAt: 1, Content: TextContent{Text: "x"}, Meta: map[string]string{"k": "v"}}
	b := Message{ID: "m1", Author: "a", CreatedAt: 1, Content: TextContent{Text: "x"}, Meta: map[string]string{"k": "v"}}
	if !a.Equal(b) {
		t.Fatalf("identical messages must be equal")
	}
	b.Meta = map[string]string{"k": "other"}
	if a.Equal(b) {
		t.Fatalf("meta difference must break equality")
	}
	b = a
	b.Content = ImageContent{Source: "file:///x"}
	if a.Equal(b) {
		t.Fatalf("content kind difference must break equality")
	}
}

func TestWithSendingFlagCopiesBase(t *testing.T) {
	base := map[string]string{"thread": "t1"}
	m := Message{ID: "m1"}.WithSendingFlag(base)
	if m.Meta[MetaSending] != "true" || m.Meta["thread"] != "t1" {
		t.Fatalf("flagged meta wrong: %#v", m.Meta)
	}
	if _, ok := base[MetaSending]; ok {
		t.Fatalf("base map was mutated")
	}
}

func TestWithServerIdentity(t *testing.T) {
	base := map[string]string{"thread": "t1"}
	local := Message{ID: "tmp1", Author: "a", CreatedAt: 123, Content: TextContent{Text: "x"}}.WithSendingFlag(base)
	confirmed := local.WithServerIdentity("srv1", 456, base)
	if confirmed.ID != "srv1" || confirmed.SentAt != 456 || confirmed.CreatedAt != 0 {
		t.Fatalf("identity fields wrong: %+v", confirmed)
	}
	if confirmed.Meta[MetaSending] != "" {
		t.Fatalf("sending flag survived: %#v", confirmed.Meta)
	}
	if confirmed.Meta["thread"] != "t1" {
		t.Fatalf("pre-send meta not restored: %#v", confirmed.Meta)
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	in := Message{
		ID:     "m1",
		Author: "a",
		SentAt: 1700000000000,
		Content: ImageContent{
			Source: "blob:b1",
			Width:  640,
			Height: 480,
		},
		Meta: map[string]string{"k": "v"},
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Message
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !in.Equal(out) {
		t.Fatalf("round trip changed the message:\n in=%+v\nout=%+v", in, out)
	}
}

func TestContentEnvelopeKindTag(t *testing.T) {
	b, err := json.Marshal(Message{ID: "m1", Content: TextContent{Text: "hi"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var probe struct {
		Content struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if probe.Content.Kind != "text" || probe.Content.Text != "hi" {
		t.Fatalf("wire shape wrong: %s", b)
	}
}

func TestUnknownContentKindRejected(t *testing.T) {
	raw := []byte(`{"id":"m1","content":{"kind":"sticker"}}`)
	var m Message
	if err := json.Unmarshal(raw, &m); err == nil {
		t.Fatalf("unknown content kind must fail to decode")
	}
}

func TestNilContentOmitted(t *testing.T) {
	b, err := json.Marshal(Message{ID: "m1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Content != nil {
		t.Fatalf("expected nil content, got %#v", m.Content)
	}
}
