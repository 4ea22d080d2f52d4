// ABOUTME: Field-level comparison of two content snapshots
// ABOUTME: Produces a dense VersionDiff with added, modified and removed fields

package diff

import (
	"sort"

	"github.com/nainya/artifactstore/pkg/content"
)

var changeOrder = map[ChangeType]int{
	FieldAdded:    0,
	FieldModified: 1,
	FieldRemoved:  2,
}

// CompareVersions diffs two documents and their display names.
// Unchanged fields are omitted. A nil labeler labels fields by their id.
func CompareVersions(oldDoc, newDoc content.Document, oldName, newName string, labels Labeler) VersionDiff {
	if labels == nil {
		labels = func(fieldID string) string { return fieldID }
	}

	result := VersionDiff{
		Fields:      []FieldChange{},
		NameChanged: oldName != newName,
		OldName:     oldName,
		NewName:     newName,
	}

	for _, field := range unionFields(oldDoc, newDoc) {
		oldVal, inOld := oldDoc[field]
		newVal, inNew := newDoc[field]

		change := FieldChange{
			FieldID:  field,
			Label:    labels(field),
			OldValue: oldVal,
			NewValue: newVal,
		}

		switch {
		case !inOld && inNew:
			change.Type = FieldAdded
			result.Summary.AddedFields++
		case inOld && !inNew:
			change.Type = FieldRemoved
			result.Summary.RemovedFields++
		case content.Equal(oldVal, newVal):
			continue
		default:
			change.Type = FieldModified
			result.Summary.ModifiedFields++
			oldText, oldIsString := oldVal.AsString()
			newText, newIsString := newVal.AsString()
			if oldIsString && newIsString {
				change.WordDiff = WordDiff(oldText, newText)
			}
		}

		result.Fields = append(result.Fields, change)
	}

	sort.SliceStable(result.Fields, func(i, j int) bool {
		a, b := result.Fields[i], result.Fields[j]
		if a.Type != b.Type {
			return changeOrder[a.Type] < changeOrder[b.Type]
		}
		return a.FieldID < b.FieldID
	})

	result.Summary.TotalChanges = len(result.Fields)
	return result
}

func unionFields(a, b content.Document) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}

	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
