// ABOUTME: Application-facing facade over versions, diffs, restores, leases and commits
// ABOUTME: Every operation is timed into metrics and logged

package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nainya/artifactstore/internal/logger"
	"github.com/nainya/artifactstore/internal/metrics"
	"github.com/nainya/artifactstore/pkg/conflict"
	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/diff"
	"github.com/nainya/artifactstore/pkg/lease"
	"github.com/nainya/artifactstore/pkg/restore"
	"github.com/nainya/artifactstore/pkg/storage"
	"github.com/nainya/artifactstore/pkg/version"
)

// Service exposes the artifact operations to the application layer
type Service struct {
	versions *version.Store
	restores *restore.Manager
	leases   *lease.Manager
	resolver *conflict.Resolver

	metrics *metrics.Metrics
	log     *logger.Logger
}

// Options configures a Service
type Options struct {
	CacheSize int
	Clock     func() time.Time
	Metrics   *metrics.Metrics // nil disables metrics
	Logger    *logger.Logger   // nil uses the global logger
}

// New wires a Service on db
func New(db *storage.DB, opts Options) (*Service, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	var versionOpts []version.Option
	leaseOpts := []lease.Option{lease.WithLogger(log.ComponentLogger("lease"))}
	if opts.Clock != nil {
		versionOpts = append(versionOpts, version.WithClock(opts.Clock))
		leaseOpts = append(leaseOpts, lease.WithClock(opts.Clock))
	}

	versions, err := version.NewStore(db, opts.CacheSize, versionOpts...)
	if err != nil {
		return nil, err
	}
	leases := lease.NewManager(db, leaseOpts...)

	return &Service{
		versions: versions,
		restores: restore.NewManager(versions),
		leases:   leases,
		resolver: conflict.NewResolver(versions, leases, log.ComponentLogger("conflict")),
		metrics:  opts.Metrics,
		log:      log,
	}, nil
}

func (s *Service) observe(operation, artifactID string, start time.Time, err error) {
	duration := time.Since(start)
	s.metrics.RecordStoreOperation(operation, err, duration)
	s.log.LogStoreOperation(operation, artifactID, duration, err)
}

// AppendVersion stores a new version of the artifact
func (s *Service) AppendVersion(ctx context.Context, artifactID string, doc content.Document, name, authorID string) (v *version.Version, err error) {
	defer func(start time.Time) { s.observe("append_version", artifactID, start, err) }(time.Now())

	v, err = s.versions.Append(ctx, artifactID, doc, name, authorID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordVersionAppended("append")
	return v, nil
}

// GetVersion returns one version or version.ErrNotFound
func (s *Service) GetVersion(ctx context.Context, artifactID string, number int64) (v *version.Version, err error) {
	defer func(start time.Time) { s.observe("get_version", artifactID, start, err) }(time.Now())
	return s.versions.Get(ctx, artifactID, number)
}

// ListVersions returns every version, newest first
func (s *Service) ListVersions(ctx context.Context, artifactID string) (vs []*version.Version, err error) {
	defer func(start time.Time) { s.observe("list_versions", artifactID, start, err) }(time.Now())
	return s.versions.List(ctx, artifactID)
}

// LatestVersion returns the latest version number, 0 when none exists
func (s *Service) LatestVersion(ctx context.Context, artifactID string) (n int64, err error) {
	defer func(start time.Time) { s.observe("latest_version", artifactID, start, err) }(time.Now())
	return s.versions.Latest(ctx, artifactID)
}

// ListArtifacts returns the ids of all artifacts with history
func (s *Service) ListArtifacts(ctx context.Context) (ids []string, err error) {
	defer func(start time.Time) { s.observe("list_artifacts", "", start, err) }(time.Now())
	return s.versions.ListArtifacts(ctx)
}

// DiffVersions compares two versions of the artifact. labels may be nil.
func (s *Service) DiffVersions(ctx context.Context, artifactID string, from, to int64, labels diff.Labeler) (d *diff.VersionDiff, err error) {
	defer func(start time.Time) { s.observe("diff_versions", artifactID, start, err) }(time.Now())

	older, err := s.versions.Get(ctx, artifactID, from)
	if err != nil {
		return nil, fmt.Errorf("diff from version %d: %w", from, err)
	}
	newer, err := s.versions.Get(ctx, artifactID, to)
	if err != nil {
		return nil, fmt.Errorf("diff to version %d: %w", to, err)
	}

	result := diff.CompareVersions(older.Content, newer.Content, older.Name, newer.Name, labels)
	result.FromVersion = from
	result.ToVersion = to
	s.metrics.RecordDiff(result.Summary.TotalChanges)
	return &result, nil
}

// RestoreFull appends a copy of the target version
func (s *Service) RestoreFull(ctx context.Context, artifactID string, target int64, authorID string) (v *version.Version, err error) {
	defer func(start time.Time) { s.observe("restore_full", artifactID, start, err) }(time.Now())

	v, err = s.restores.Full(ctx, artifactID, target, authorID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordVersionAppended("restore")
	return v, nil
}

// RestoreSelective appends the latest content with selected fields restored
func (s *Service) RestoreSelective(ctx context.Context, artifactID string, target int64, fieldIDs []string, authorID string) (v *version.Version, err error) {
	defer func(start time.Time) { s.observe("restore_selective", artifactID, start, err) }(time.Now())

	v, err = s.restores.Selective(ctx, artifactID, target, fieldIDs, authorID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordVersionAppended("restore")
	return v, nil
}

// AcquireLease grants an edit lease or returns a *lease.HeldError
func (s *Service) AcquireLease(ctx context.Context, artifactID, holderID string, ttl time.Duration) (l *lease.Lease, err error) {
	defer func(start time.Time) { s.observe("acquire_lease", artifactID, start, err) }(time.Now())

	l, err = s.leases.Acquire(ctx, artifactID, holderID, ttl)
	s.metrics.RecordLease("acquire", leaseOutcome(err))
	return l, err
}

// Heartbeat extends the holder's lease
func (s *Service) Heartbeat(ctx context.Context, artifactID, holderID string, ttl time.Duration) (l *lease.Lease, err error) {
	defer func(start time.Time) { s.observe("heartbeat", artifactID, start, err) }(time.Now())

	l, err = s.leases.Heartbeat(ctx, artifactID, holderID, ttl)
	s.metrics.RecordLease("heartbeat", leaseOutcome(err))
	return l, err
}

// ReleaseLease drops the holder's lease or returns lease.ErrLeaseNotHeld
func (s *Service) ReleaseLease(ctx context.Context, artifactID, holderID string) (err error) {
	defer func(start time.Time) { s.observe("release_lease", artifactID, start, err) }(time.Now())

	err = s.leases.Release(ctx, artifactID, holderID)
	s.metrics.RecordLease("release", leaseOutcome(err))
	return err
}

// GetLease returns the live lease, or nil
func (s *Service) GetLease(ctx context.Context, artifactID string) (l *lease.Lease, err error) {
	defer func(start time.Time) { s.observe("get_lease", artifactID, start, err) }(time.Now())
	return s.leases.Get(ctx, artifactID)
}

// CommitWithConflictCheck appends only if expected is still the latest
// version. A conflict is a result, not an error.
func (s *Service) CommitWithConflictCheck(ctx context.Context, req conflict.Request) (res *conflict.Result, err error) {
	defer func(start time.Time) { s.observe("commit", req.ArtifactID, start, err) }(time.Now())

	res, err = s.resolver.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCommit(string(res.Status))
	if res.Status == conflict.Committed {
		s.metrics.RecordVersionAppended("commit")
	}
	return res, nil
}

// ResolveConflict applies a caller's resolution to a conflict record
func (s *Service) ResolveConflict(ctx context.Context, rec *conflict.Record, choice conflict.Resolution, req conflict.Request, merged content.Document) (res *conflict.Result, err error) {
	defer func(start time.Time) { s.observe("resolve_conflict", req.ArtifactID, start, err) }(time.Now())

	res, err = s.resolver.Resolve(ctx, rec, choice, req, merged)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCommit(string(res.Status))
	if res.Status == conflict.Committed {
		s.metrics.RecordVersionAppended("commit")
	}
	return res, nil
}

func leaseOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, lease.ErrLeaseHeld):
		return "held"
	case errors.Is(err, lease.ErrLeaseNotHeld):
		return "not_held"
	default:
		return "error"
	}
}
