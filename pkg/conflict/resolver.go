// ABOUTME: Optimistic commit protocol over the version store
// ABOUTME: Commits land only when the caller's expected version is still latest

package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/lease"
	"github.com/nainya/artifactstore/pkg/version"
)

// Status is the terminal state of a commit attempt
type Status string

const (
	Committed  Status = "committed"
	Conflicted Status = "conflicted"
	Cancelled  Status = "cancelled"
)

// Resolution is a caller's answer to a conflict
type Resolution string

const (
	Overwrite Resolution = "overwrite"
	Merge     Resolution = "merge"
	Cancel    Resolution = "cancel"
)

// Options lists every resolution offered on a conflict
var Options = []Resolution{Overwrite, Merge, Cancel}

// ErrUnknownResolution indicates a resolution outside Options
var ErrUnknownResolution = errors.New("conflict: unknown resolution")

// ErrMissingRecord indicates an overwrite or merge without the conflict it answers
var ErrMissingRecord = errors.New("conflict: conflict record is required")

// Request is one commit attempt
type Request struct {
	ArtifactID      string
	ExpectedVersion int64
	Content         content.Document
	Name            string // empty keeps the current name
	AuthorID        string
}

// Record describes the version that beat the caller
type Record struct {
	ArtifactID      string
	ExpectedVersion int64
	CurrentVersion  int64
	LastEditor      string
	LastEditedAt    time.Time
	Lease           *lease.Lease
	Options         []Resolution
}

// Result is the outcome of Commit or Resolve
type Result struct {
	Status       Status
	Version      *version.Version
	Conflict     *Record
	LeaseWarning *lease.Lease // live lease held by someone other than the author
}

// Store is the subset of the version store the resolver needs
type Store interface {
	Get(ctx context.Context, artifactID string, number int64) (*version.Version, error)
	AppendIfLatest(ctx context.Context, artifactID string, expected int64, doc content.Document, name, authorID string) (*version.Version, error)
}

// Leases looks up the live lease on an artifact
type Leases interface {
	Get(ctx context.Context, artifactID string) (*lease.Lease, error)
}

// Resolver arbitrates version agreement. It never merges content.
type Resolver struct {
	store  Store
	leases Leases
	log    zerolog.Logger
}

// NewResolver creates a resolver. leases may be nil.
func NewResolver(store Store, leases Leases, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		leases: leases,
		log:    log,
	}
}

// Commit appends req.Content if req.ExpectedVersion is the latest version.
// A stale expectation returns a Conflicted result and writes nothing.
func (r *Resolver) Commit(ctx context.Context, req Request) (*Result, error) {
	if req.ArtifactID == "" {
		return nil, errors.New("conflict: artifact id is required")
	}
	if req.ExpectedVersion < 0 {
		return nil, fmt.Errorf("conflict: expected version must be >= 0, got %d", req.ExpectedVersion)
	}

	current := r.liveLease(ctx, req.ArtifactID)

	name := req.Name
	if name == "" && req.ExpectedVersion > 0 {
		if head, err := r.store.Get(ctx, req.ArtifactID, req.ExpectedVersion); err == nil {
			name = head.Name
		} else if !errors.Is(err, version.ErrNotFound) {
			return nil, fmt.Errorf("conflict: %w", err)
		}
	}

	v, err := r.store.AppendIfLatest(ctx, req.ArtifactID, req.ExpectedVersion, req.Content, name, req.AuthorID)
	if err != nil {
		var mismatch *version.MismatchError
		if !errors.As(err, &mismatch) {
			return nil, fmt.Errorf("conflict: %w", err)
		}

		rec := &Record{
			ArtifactID:      req.ArtifactID,
			ExpectedVersion: req.ExpectedVersion,
			CurrentVersion:  mismatch.Latest,
			Lease:           current,
			Options:         append([]Resolution(nil), Options...),
		}
		if mismatch.Current != nil {
			rec.LastEditor = mismatch.Current.AuthorID
			rec.LastEditedAt = mismatch.Current.CreatedAt
		}

		r.log.Info().
			Str("artifact_id", req.ArtifactID).
			Int64("expected_version", req.ExpectedVersion).
			Int64("current_version", rec.CurrentVersion).
			Str("author_id", req.AuthorID).
			Str("last_editor", rec.LastEditor).
			Msg("commit conflicted")
		return &Result{Status: Conflicted, Conflict: rec}, nil
	}

	res := &Result{Status: Committed, Version: v}
	if current != nil && current.HolderID != req.AuthorID {
		res.LeaseWarning = current
	}

	r.log.Debug().
		Str("artifact_id", req.ArtifactID).
		Int64("version", v.Number).
		Str("author_id", req.AuthorID).
		Bool("lease_warning", res.LeaseWarning != nil).
		Msg("commit landed")
	return res, nil
}

// Resolve answers a conflict. Overwrite resubmits req.Content and Merge
// resubmits merged, both against rec.CurrentVersion. Either may conflict
// again if another commit lands first. Cancel touches nothing.
func (r *Resolver) Resolve(ctx context.Context, rec *Record, choice Resolution, req Request, merged content.Document) (*Result, error) {
	if choice == Cancel {
		return &Result{Status: Cancelled}, nil
	}
	if rec == nil {
		return nil, ErrMissingRecord
	}

	switch choice {
	case Overwrite:
		req.ExpectedVersion = rec.CurrentVersion
		return r.Commit(ctx, req)
	case Merge:
		if merged == nil {
			return nil, errors.New("conflict: merge requires merged content")
		}
		req.ExpectedVersion = rec.CurrentVersion
		req.Content = merged
		return r.Commit(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolution, choice)
	}
}

// liveLease is advisory, so lookup failures never block a commit
func (r *Resolver) liveLease(ctx context.Context, artifactID string) *lease.Lease {
	if r.leases == nil {
		return nil
	}
	l, err := r.leases.Get(ctx, artifactID)
	if err != nil {
		r.log.Warn().Err(err).Str("artifact_id", artifactID).Msg("lease lookup failed")
		return nil
	}
	return l
}
