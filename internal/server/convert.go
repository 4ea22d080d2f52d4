// Conversions between domain types and google.protobuf.Struct messages
package server

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/artifactstore/pkg/conflict"
	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/diff"
	"github.com/nainya/artifactstore/pkg/lease"
	"github.com/nainya/artifactstore/pkg/version"
)

// ========== Request fields ==========

func field(s *structpb.Struct, name string) (*structpb.Value, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.GetFields()[name]
	if !ok {
		return nil, false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return v, true
}

func stringField(s *structpb.Struct, name string, required bool) (string, error) {
	v, ok := field(s, name)
	if !ok {
		if required {
			return "", invalidArgument("%s is required", name)
		}
		return "", nil
	}
	str, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		return "", invalidArgument("%s must be a string", name)
	}
	if required && str.StringValue == "" {
		return "", invalidArgument("%s is required", name)
	}
	return str.StringValue, nil
}

// intField reads an integral number. ok is false when the field is absent.
func intField(s *structpb.Struct, name string, required bool) (n int64, ok bool, err error) {
	v, present := field(s, name)
	if !present {
		if required {
			return 0, false, invalidArgument("%s is required", name)
		}
		return 0, false, nil
	}
	num, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber {
		return 0, false, invalidArgument("%s must be a number", name)
	}
	f := num.NumberValue
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false, invalidArgument("%s must be an integer", name)
	}
	return int64(f), true, nil
}

func versionField(s *structpb.Struct, name string) (int64, error) {
	n, _, err := intField(s, name, true)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, invalidArgument("%s must not be negative", name)
	}
	return n, nil
}

func stringsField(s *structpb.Struct, name string) ([]string, error) {
	v, ok := field(s, name)
	if !ok {
		return nil, nil
	}
	list, isList := v.GetKind().(*structpb.Value_ListValue)
	if !isList {
		return nil, invalidArgument("%s must be a list of strings", name)
	}
	out := make([]string, 0, len(list.ListValue.GetValues()))
	for _, item := range list.ListValue.GetValues() {
		str, isString := item.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return nil, invalidArgument("%s must be a list of strings", name)
		}
		out = append(out, str.StringValue)
	}
	return out, nil
}

func labelsField(s *structpb.Struct, name string) (map[string]string, error) {
	v, ok := field(s, name)
	if !ok {
		return nil, nil
	}
	obj, isStruct := v.GetKind().(*structpb.Value_StructValue)
	if !isStruct {
		return nil, invalidArgument("%s must be an object of strings", name)
	}
	out := make(map[string]string, len(obj.StructValue.GetFields()))
	for k, item := range obj.StructValue.GetFields() {
		str, isString := item.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return nil, invalidArgument("%s.%s must be a string", name, k)
		}
		out[k] = str.StringValue
	}
	return out, nil
}

// documentField reads artifact content. An absent field is an empty document.
func documentField(s *structpb.Struct, name string) (content.Document, error) {
	v, ok := field(s, name)
	if !ok {
		return content.Document{}, nil
	}
	obj, isStruct := v.GetKind().(*structpb.Value_StructValue)
	if !isStruct {
		return nil, invalidArgument("%s must be an object", name)
	}
	return content.DocumentFromStruct(obj.StructValue), nil
}

// ========== Response builders ==========

func newStruct(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}

func timeValue(t time.Time) *structpb.Value {
	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func intValue(n int64) *structpb.Value {
	return structpb.NewNumberValue(float64(n))
}

func versionToStruct(v *version.Version) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		"artifact_id":    structpb.NewStringValue(v.ArtifactID),
		"version_number": intValue(v.Number),
		"content":        structpb.NewStructValue(content.DocumentToStruct(v.Content)),
		"name":           structpb.NewStringValue(v.Name),
		"author_id":      structpb.NewStringValue(v.AuthorID),
		"created_at":     timeValue(v.CreatedAt),
	})
}

func versionsToStruct(vs []*version.Version) *structpb.Struct {
	items := make([]*structpb.Value, len(vs))
	for i, v := range vs {
		items[i] = structpb.NewStructValue(versionToStruct(v))
	}
	return newStruct(map[string]*structpb.Value{
		"versions": structpb.NewListValue(&structpb.ListValue{Values: items}),
	})
}

func leaseToStruct(l *lease.Lease) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		"artifact_id": structpb.NewStringValue(l.ArtifactID),
		"holder_id":   structpb.NewStringValue(l.HolderID),
		"acquired_at": timeValue(l.AcquiredAt),
		"expires_at":  timeValue(l.ExpiresAt),
	})
}

func diffToStruct(d *diff.VersionDiff) *structpb.Struct {
	fields := make([]*structpb.Value, len(d.Fields))
	for i, c := range d.Fields {
		fc := map[string]*structpb.Value{
			"field_id":    structpb.NewStringValue(c.FieldID),
			"label":       structpb.NewStringValue(c.Label),
			"type":        structpb.NewStringValue(string(c.Type)),
			"old_display": structpb.NewStringValue(c.OldDisplay()),
			"new_display": structpb.NewStringValue(c.NewDisplay()),
		}
		if c.Type != diff.FieldAdded {
			fc["old_value"] = content.ToProto(c.OldValue)
		}
		if c.Type != diff.FieldRemoved {
			fc["new_value"] = content.ToProto(c.NewValue)
		}
		if c.WordDiff != nil {
			segs := make([]*structpb.Value, len(c.WordDiff))
			for j, s := range c.WordDiff {
				segs[j] = structpb.NewStructValue(newStruct(map[string]*structpb.Value{
					"type":  structpb.NewStringValue(string(s.Type)),
					"value": structpb.NewStringValue(s.Value),
				}))
			}
			added, removed := diff.WordStats(c.WordDiff)
			fc["word_diff"] = structpb.NewListValue(&structpb.ListValue{Values: segs})
			fc["words_added"] = intValue(int64(added))
			fc["words_removed"] = intValue(int64(removed))
		}
		fields[i] = structpb.NewStructValue(newStruct(fc))
	}

	return newStruct(map[string]*structpb.Value{
		"from_version": intValue(d.FromVersion),
		"to_version":   intValue(d.ToVersion),
		"name_changed": structpb.NewBoolValue(d.NameChanged),
		"old_name":     structpb.NewStringValue(d.OldName),
		"new_name":     structpb.NewStringValue(d.NewName),
		"fields":       structpb.NewListValue(&structpb.ListValue{Values: fields}),
		"summary": structpb.NewStructValue(newStruct(map[string]*structpb.Value{
			"added_fields":    intValue(int64(d.Summary.AddedFields)),
			"removed_fields":  intValue(int64(d.Summary.RemovedFields)),
			"modified_fields": intValue(int64(d.Summary.ModifiedFields)),
			"total_changes":   intValue(int64(d.Summary.TotalChanges)),
		})),
	})
}

func commitResultToStruct(res *conflict.Result) *structpb.Struct {
	out := map[string]*structpb.Value{
		"status": structpb.NewStringValue(string(res.Status)),
	}
	if res.Version != nil {
		out["version"] = structpb.NewStructValue(versionToStruct(res.Version))
	}
	if res.LeaseWarning != nil {
		out["lease_warning"] = structpb.NewStructValue(leaseToStruct(res.LeaseWarning))
	}
	if rec := res.Conflict; rec != nil {
		options := make([]*structpb.Value, len(rec.Options))
		for i, o := range rec.Options {
			options[i] = structpb.NewStringValue(string(o))
		}
		c := map[string]*structpb.Value{
			"artifact_id":      structpb.NewStringValue(rec.ArtifactID),
			"expected_version": intValue(rec.ExpectedVersion),
			"current_version":  intValue(rec.CurrentVersion),
			"last_editor":      structpb.NewStringValue(rec.LastEditor),
			"last_edited_at":   timeValue(rec.LastEditedAt),
			"options":          structpb.NewListValue(&structpb.ListValue{Values: options}),
		}
		if rec.Lease != nil {
			c["lease"] = structpb.NewStructValue(leaseToStruct(rec.Lease))
		}
		out["conflict"] = structpb.NewStructValue(newStruct(c))
	}
	return newStruct(out)
}

// ========== Response parsers (client side) ==========

func structField(s *structpb.Struct, name string) *structpb.Struct {
	v, ok := field(s, name)
	if !ok {
		return nil
	}
	return v.GetStructValue()
}

func listField(s *structpb.Struct, name string) []*structpb.Value {
	v, ok := field(s, name)
	if !ok {
		return nil
	}
	return v.GetListValue().GetValues()
}

func str(s *structpb.Struct, name string) string {
	v, _ := field(s, name)
	return v.GetStringValue()
}

func num(s *structpb.Struct, name string) int64 {
	v, _ := field(s, name)
	return int64(v.GetNumberValue())
}

func parseTime(s *structpb.Struct, name string) (time.Time, error) {
	raw := str(s, name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return t, nil
}

func versionFromStruct(s *structpb.Struct) (*version.Version, error) {
	if s == nil {
		return nil, fmt.Errorf("missing version")
	}
	created, err := parseTime(s, "created_at")
	if err != nil {
		return nil, err
	}
	return &version.Version{
		ArtifactID: str(s, "artifact_id"),
		Number:     num(s, "version_number"),
		Content:    content.DocumentFromStruct(structField(s, "content")),
		Name:       str(s, "name"),
		AuthorID:   str(s, "author_id"),
		CreatedAt:  created,
	}, nil
}

func leaseFromStruct(s *structpb.Struct) (*lease.Lease, error) {
	if s == nil {
		return nil, nil
	}
	acquired, err := parseTime(s, "acquired_at")
	if err != nil {
		return nil, err
	}
	expires, err := parseTime(s, "expires_at")
	if err != nil {
		return nil, err
	}
	return &lease.Lease{
		ArtifactID: str(s, "artifact_id"),
		HolderID:   str(s, "holder_id"),
		AcquiredAt: acquired,
		ExpiresAt:  expires,
	}, nil
}

func diffFromStruct(s *structpb.Struct) *diff.VersionDiff {
	d := &diff.VersionDiff{
		FromVersion: num(s, "from_version"),
		ToVersion:   num(s, "to_version"),
		NameChanged: s.GetFields()["name_changed"].GetBoolValue(),
		OldName:     str(s, "old_name"),
		NewName:     str(s, "new_name"),
		Fields:      []diff.FieldChange{},
	}

	summary := structField(s, "summary")
	d.Summary = diff.Summary{
		AddedFields:    int(num(summary, "added_fields")),
		RemovedFields:  int(num(summary, "removed_fields")),
		ModifiedFields: int(num(summary, "modified_fields")),
		TotalChanges:   int(num(summary, "total_changes")),
	}

	for _, item := range listField(s, "fields") {
		fc := item.GetStructValue()
		change := diff.FieldChange{
			FieldID:  str(fc, "field_id"),
			Label:    str(fc, "label"),
			Type:     diff.ChangeType(str(fc, "type")),
			OldValue: content.FromProto(fc.GetFields()["old_value"]),
			NewValue: content.FromProto(fc.GetFields()["new_value"]),
		}
		if segs := listField(fc, "word_diff"); segs != nil {
			change.WordDiff = make([]diff.Segment, 0, len(segs))
			for _, seg := range segs {
				sv := seg.GetStructValue()
				change.WordDiff = append(change.WordDiff, diff.Segment{
					Type:  diff.SegmentType(str(sv, "type")),
					Value: str(sv, "value"),
				})
			}
		}
		d.Fields = append(d.Fields, change)
	}
	return d
}

func commitResultFromStruct(s *structpb.Struct) (*conflict.Result, error) {
	res := &conflict.Result{Status: conflict.Status(str(s, "status"))}

	if v := structField(s, "version"); v != nil {
		parsed, err := versionFromStruct(v)
		if err != nil {
			return nil, err
		}
		res.Version = parsed
	}

	warning, err := leaseFromStruct(structField(s, "lease_warning"))
	if err != nil {
		return nil, err
	}
	res.LeaseWarning = warning

	if c := structField(s, "conflict"); c != nil {
		edited, err := parseTime(c, "last_edited_at")
		if err != nil {
			return nil, err
		}
		held, err := leaseFromStruct(structField(c, "lease"))
		if err != nil {
			return nil, err
		}
		rec := &conflict.Record{
			ArtifactID:      str(c, "artifact_id"),
			ExpectedVersion: num(c, "expected_version"),
			CurrentVersion:  num(c, "current_version"),
			LastEditor:      str(c, "last_editor"),
			LastEditedAt:    edited,
			Lease:           held,
		}
		for _, o := range listField(c, "options") {
			rec.Options = append(rec.Options, conflict.Resolution(o.GetStringValue()))
		}
		res.Conflict = rec
	}
	return res, nil
}
