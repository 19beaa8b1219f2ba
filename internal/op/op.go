package op

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind identifies what an Operation does to the project.
type Kind int

const (
	// Insert adds Content at (Line, Column).
	Insert Kind = iota + 1
	// Delete removes Content at (Line, Column). Content carries the
	// removed text so the operation stays reversible.
	Delete
	// Replace swaps PrevContent for Content at (Line, Column).
	Replace
	// MetaChange records a project metadata change (no position).
	MetaChange
	// Resource records a non-text resource change (no position).
	Resource
)

var kindNames = map[Kind]string{
	Insert:     "insert",
	Delete:     "delete",
	Replace:    "replace",
	MetaChange: "meta",
	Resource:   "resource",
}

// String returns the wire name of the kind, or "unknown(n)" for
// unrecognized values.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ParseKind maps a wire name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// MarshalJSON encodes the kind as its wire name.
func (k Kind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown operation kind %d", int(k))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire name into the kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("unmarshal operation kind: %w", err)
	}
	parsed, err := ParseKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Positional reports whether the kind carries a (Line, Column) position.
func (k Kind) Positional() bool {
	switch k {
	case Insert, Delete, Replace:
		return true
	default:
		return false
	}
}

// Operation is an immutable record of one change to a file or resource.
//
// OperationID and TimestampNanos are zero until the coordination runtime
// persists the operation; every persisted operation has both non-zero.
// Undone/Redone are log-side flags and travel with history snapshots.
type Operation struct {
	Kind             Kind   `json:"kind"`
	FilePath         string `json:"file_path"`
	Line             int    `json:"line,omitempty"`
	Column           int    `json:"column,omitempty"`
	Content          []byte `json:"content,omitempty"`
	PrevContent      []byte `json:"prev_content,omitempty"`
	ContentLength    int    `json:"content_length"`
	TimestampNanos   int64  `json:"timestamp_nanos"`
	OriginInstanceID string `json:"origin_instance_id"`
	OperationID      int64  `json:"operation_id"`
	Undone           bool   `json:"undone,omitempty"`
	Redone           bool   `json:"redone,omitempty"`
}

// NewInsert builds an Insert operation at a 1-based position.
func NewInsert(filePath string, line, column int, content []byte) Operation {
	return Operation{
		Kind:          Insert,
		FilePath:      NormalizePath(filePath),
		Line:          line,
		Column:        column,
		Content:       content,
		ContentLength: len(content),
	}
}

// NewDelete builds a Delete operation. Content must hold the removed
// text; without it the operation cannot be reversed.
func NewDelete(filePath string, line, column int, content []byte) Operation {
	return Operation{
		Kind:          Delete,
		FilePath:      NormalizePath(filePath),
		Line:          line,
		Column:        column,
		Content:       content,
		ContentLength: len(content),
	}
}

// NewReplace builds a Replace operation. prevContent holds the pre-image
// being overwritten; it is required for reversal.
func NewReplace(filePath string, line, column int, content, prevContent []byte) Operation {
	return Operation{
		Kind:          Replace,
		FilePath:      NormalizePath(filePath),
		Line:          line,
		Column:        column,
		Content:       content,
		PrevContent:   prevContent,
		ContentLength: len(content),
	}
}

// NewMetaChange builds a positionless metadata-change operation.
func NewMetaChange(filePath string, content []byte) Operation {
	return Operation{
		Kind:          MetaChange,
		FilePath:      NormalizePath(filePath),
		Content:       content,
		ContentLength: len(content),
	}
}

// NewResource builds a positionless resource-change operation.
func NewResource(filePath string, content []byte) Operation {
	return Operation{
		Kind:          Resource,
		FilePath:      NormalizePath(filePath),
		Content:       content,
		ContentLength: len(content),
	}
}

// NormalizePath canonicalizes a file path for persistence and the wire:
// Unicode NFC, forward slashes, redundant elements cleaned. Empty input
// stays empty so validation can reject it with a precise message.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = norm.NFC.String(p)
	p = strings.ReplaceAll(p, `\`, "/")
	return path.Clean(p)
}

// Validate checks the structural invariants of an operation. It does not
// check persistence-assigned fields (OperationID, TimestampNanos) - those
// belong to the runtime.
func (o *Operation) Validate() error {
	if _, ok := kindNames[o.Kind]; !ok {
		return fmt.Errorf("invalid kind %d", int(o.Kind))
	}
	if o.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if path.IsAbs(o.FilePath) {
		return fmt.Errorf("file path %q must be relative", o.FilePath)
	}
	if o.FilePath == ".." || strings.HasPrefix(o.FilePath, "../") {
		return fmt.Errorf("file path %q escapes the project root", o.FilePath)
	}
	if o.Kind.Positional() {
		if o.Line < 1 || o.Column < 1 {
			return fmt.Errorf("%s requires a 1-based position, got line=%d column=%d", o.Kind, o.Line, o.Column)
		}
	} else if o.Line != 0 || o.Column != 0 {
		return fmt.Errorf("%s does not carry a position, got line=%d column=%d", o.Kind, o.Line, o.Column)
	}
	if o.ContentLength != len(o.Content) {
		return fmt.Errorf("content_length %d does not match content size %d", o.ContentLength, len(o.Content))
	}
	switch o.Kind {
	case Insert, Delete:
		if len(o.Content) == 0 {
			return fmt.Errorf("%s requires content", o.Kind)
		}
	case Replace:
		if len(o.Content) == 0 {
			return fmt.Errorf("replace requires content")
		}
		if len(o.PrevContent) == 0 {
			return fmt.Errorf("replace requires prev_content for reversal")
		}
	}
	return nil
}

// Reverse computes the operation that cancels o:
//
//   - Insert reverses to a Delete at the same position carrying the
//     inserted content (identifies the range and keeps the pair
//     reversible on peers).
//   - Delete reverses to an Insert carrying the removed content.
//   - Replace reverses to a Replace with Content and PrevContent swapped.
//   - MetaChange/Resource reverse to the same kind, restoring
//     PrevContent when present.
//
// Persistence-assigned identity (OperationID, TimestampNanos) and log
// flags are cleared; the caller stamps and attributes the result.
// Reverse of Reverse reproduces the original modulo those fields.
func (o *Operation) Reverse() Operation {
	rev := Operation{
		FilePath:         o.FilePath,
		Line:             o.Line,
		Column:           o.Column,
		OriginInstanceID: o.OriginInstanceID,
	}

	switch o.Kind {
	case Insert:
		rev.Kind = Delete
		rev.Content = o.Content
	case Delete:
		rev.Kind = Insert
		rev.Content = o.Content
	case Replace:
		rev.Kind = Replace
		rev.Content = o.PrevContent
		rev.PrevContent = o.Content
	default:
		rev.Kind = o.Kind
		if len(o.PrevContent) > 0 {
			rev.Content = o.PrevContent
			rev.PrevContent = o.Content
		} else {
			rev.Content = o.Content
		}
	}

	rev.ContentLength = len(rev.Content)
	return rev
}
