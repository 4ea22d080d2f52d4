// ABOUTME: Diff result types for word-level and field-level comparisons
// ABOUTME: Computed values only, never persisted

package diff

import "github.com/nainya/artifactstore/pkg/content"

// SegmentType classifies one run of a word diff
type SegmentType string

const (
	Added     SegmentType = "added"
	Removed   SegmentType = "removed"
	Unchanged SegmentType = "unchanged"
)

// Segment is a maximal run of tokens sharing the same classification
type Segment struct {
	Type  SegmentType `json:"type"`
	Value string      `json:"value"`
}

// ChangeType classifies a field-level change
type ChangeType string

const (
	FieldAdded    ChangeType = "added"
	FieldRemoved  ChangeType = "removed"
	FieldModified ChangeType = "modified"
)

// FieldChange describes one field that differs between two documents
type FieldChange struct {
	FieldID  string        `json:"field_id"`
	Label    string        `json:"label"`
	Type     ChangeType    `json:"type"`
	OldValue content.Value `json:"old_value"`
	NewValue content.Value `json:"new_value"`
	WordDiff []Segment     `json:"word_diff,omitempty"` // only for string -> string modifications
}

// OldDisplay renders the old value for display. Empty for added fields.
func (c FieldChange) OldDisplay() string {
	if c.Type == FieldAdded {
		return ""
	}
	return display(c.OldValue)
}

// NewDisplay renders the new value for display. Empty for removed fields.
func (c FieldChange) NewDisplay() string {
	if c.Type == FieldRemoved {
		return ""
	}
	return display(c.NewValue)
}

func display(v content.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return v.String()
}

// Summary holds aggregate counts for a VersionDiff
type Summary struct {
	AddedFields    int `json:"added_fields"`
	RemovedFields  int `json:"removed_fields"`
	ModifiedFields int `json:"modified_fields"`
	TotalChanges   int `json:"total_changes"`
}

// VersionDiff is the delta between two versions of one artifact
type VersionDiff struct {
	FromVersion int64         `json:"from_version"`
	ToVersion   int64         `json:"to_version"`
	Fields      []FieldChange `json:"fields"`
	NameChanged bool          `json:"name_changed"`
	OldName     string        `json:"old_name"`
	NewName     string        `json:"new_name"`
	Summary     Summary       `json:"summary"`
}

// Empty reports whether the diff has no field or name changes
func (d *VersionDiff) Empty() bool {
	return d.Summary.TotalChanges == 0 && !d.NameChanged
}

// Labeler maps a field identifier to a display label
type Labeler func(fieldID string) string

// Labels adapts a static map into a Labeler. Unknown fields fall back to their id.
func Labels(m map[string]string) Labeler {
	return func(fieldID string) string {
		if label, ok := m[fieldID]; ok && label != "" {
			return label
		}
		return fieldID
	}
}
