// ABOUTME: Full and selective restore of earlier artifact versions
// ABOUTME: Restores always append a new version and never rewrite history

package restore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/version"
)

// MaxAttempts bounds the compare-and-swap retries of a selective restore
// before it falls back to a plain append
const MaxAttempts = 3

// ErrInvalidRestoreFields indicates a selection naming unknown fields
var ErrInvalidRestoreFields = errors.New("restore: invalid restore fields")

// InvalidFieldsError lists the selected fields found in neither version
type InvalidFieldsError struct {
	Fields []string
}

func (e *InvalidFieldsError) Error() string {
	if len(e.Fields) == 0 {
		return "restore: no fields selected"
	}
	return fmt.Sprintf("restore: fields not present in target or latest: %s", strings.Join(e.Fields, ", "))
}

func (e *InvalidFieldsError) Unwrap() error {
	return ErrInvalidRestoreFields
}

// Store is the subset of the version store restores need
type Store interface {
	Get(ctx context.Context, artifactID string, number int64) (*version.Version, error)
	Head(ctx context.Context, artifactID string) (*version.Version, error)
	Append(ctx context.Context, artifactID string, doc content.Document, name, authorID string) (*version.Version, error)
	AppendIfLatest(ctx context.Context, artifactID string, expected int64, doc content.Document, name, authorID string) (*version.Version, error)
}

// Manager restores artifacts from their history
type Manager struct {
	store Store
}

// NewManager creates a restore manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Full appends a copy of the target version's content and name
func (m *Manager) Full(ctx context.Context, artifactID string, target int64, authorID string) (*version.Version, error) {
	src, err := m.store.Get(ctx, artifactID, target)
	if err != nil {
		return nil, fmt.Errorf("restore full: %w", err)
	}

	v, err := m.store.Append(ctx, artifactID, src.Content, src.Name, authorID)
	if err != nil {
		return nil, fmt.Errorf("restore full: %w", err)
	}
	return v, nil
}

// Selective appends the latest content with the selected fields taken
// from the target. Selected fields missing from the target are removed.
func (m *Manager) Selective(ctx context.Context, artifactID string, target int64, fieldIDs []string, authorID string) (*version.Version, error) {
	if len(fieldIDs) == 0 {
		return nil, &InvalidFieldsError{}
	}

	src, err := m.store.Get(ctx, artifactID, target)
	if err != nil {
		return nil, fmt.Errorf("restore selective: %w", err)
	}

	var doc content.Document
	var head *version.Version
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		head, err = m.store.Head(ctx, artifactID)
		if err != nil {
			return nil, fmt.Errorf("restore selective: %w", err)
		}
		doc, err = Merge(head.Content, src.Content, fieldIDs)
		if err != nil {
			return nil, err
		}

		v, err := m.store.AppendIfLatest(ctx, artifactID, head.Number, doc, head.Name, authorID)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, version.ErrVersionMismatch) {
			return nil, fmt.Errorf("restore selective: %w", err)
		}
	}

	// restores take no expected version, so a busy artifact still gets one
	v, err := m.store.Append(ctx, artifactID, doc, head.Name, authorID)
	if err != nil {
		return nil, fmt.Errorf("restore selective: %w", err)
	}
	return v, nil
}

// Merge overlays the selected fields of target onto latest and returns the
// result. A selected field absent from both is an InvalidFieldsError.
func Merge(latest, target content.Document, fieldIDs []string) (content.Document, error) {
	var invalid []string
	for _, id := range fieldIDs {
		if !latest.Has(id) && !target.Has(id) {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return nil, &InvalidFieldsError{Fields: invalid}
	}

	out := latest.Clone()
	for _, id := range fieldIDs {
		if v, ok := target[id]; ok {
			out[id] = v.Clone()
		} else {
			delete(out, id)
		}
	}
	return out, nil
}
