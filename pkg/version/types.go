// ABOUTME: Artifact version data model
// ABOUTME: Immutable numbered snapshots of artifact content

package version

import (
	"errors"
	"fmt"
	"time"

	"github.com/nainya/artifactstore/pkg/content"
)

var (
	// ErrNotFound indicates an unknown artifact or version number
	ErrNotFound = errors.New("version: not found")

	// ErrVersionMismatch indicates a compare-and-swap append lost the race
	ErrVersionMismatch = errors.New("version: expected version is not latest")
)

// Version is one immutable snapshot of an artifact
type Version struct {
	ArtifactID string           `json:"artifact_id"`
	Number     int64            `json:"number"` // 1-based, contiguous per artifact
	Content    content.Document `json:"content"`
	Name       string           `json:"name"`
	AuthorID   string           `json:"author_id"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate cached history
func (v *Version) Clone() *Version {
	cp := *v
	cp.Content = v.Content.Clone()
	return &cp
}

// MismatchError reports the store's actual latest version after a failed
// compare-and-swap. Current is nil when the artifact has no versions.
type MismatchError struct {
	ArtifactID string
	Expected   int64
	Latest     int64
	Current    *Version
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("version: artifact %s expected version %d, latest is %d", e.ArtifactID, e.Expected, e.Latest)
}

func (e *MismatchError) Unwrap() error {
	return ErrVersionMismatch
}

func notFound(artifactID string, number int64) error {
	return fmt.Errorf("%w: %s/%d", ErrNotFound, artifactID, number)
}
