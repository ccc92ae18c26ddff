package chat

import "chatsync/pkg/models"

// OpKind tags the structural change an Operation describes.
type OpKind string

const (
	OpInsert    OpKind = "insert"
	OpRemove    OpKind = "remove"
	OpUpdate    OpKind = "update"
	OpSet       OpKind = "set"
	OpInsertAll OpKind = "insert_all"
)

// Operation describes one structural change to the sorted message view, with
// enough information for an incremental renderer to apply it without
// re-diffing the whole list.
//
// Pos is computed against the sorted view at the moment of the mutation. For
// OpRemove and OpUpdate it is authoritative. For OpInsert and OpInsertAll it
// always reports the tail of the view regardless of the record's
// chronological place, because the record store does not reposition on
// write; a renderer that maintains a truly sorted display must re-resolve
// the position from a fresh Read rather than trust it.
type Operation struct {
	Kind     OpKind
	Animated bool

	// Message is the affected record for OpInsert and OpRemove.
	Message models.Message
	// Old and New carry both versions of the record for OpUpdate.
	Old models.Message
	New models.Message
	// Messages carries the full payload for OpSet and OpInsertAll.
	Messages []models.Message
	// Pos is the view position; for OpSet positions are implicitly 0..n.
	Pos int
}
