// Package server implements the gRPC ArtifactStore service
package server

import (
	"context"
	"errors"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/artifactstore/internal/logger"
	"github.com/nainya/artifactstore/pkg/artifact"
	"github.com/nainya/artifactstore/pkg/conflict"
	"github.com/nainya/artifactstore/pkg/diff"
	"github.com/nainya/artifactstore/pkg/lease"
)

// Server implements the ArtifactServiceServer interface
type Server struct {
	svc        *artifact.Service
	defaultTTL time.Duration
	log        *logger.Logger
	startTime  time.Time
}

// NewServer creates a gRPC server over svc. defaultTTL applies when a
// lease request omits ttl_minutes.
func NewServer(svc *artifact.Service, defaultTTL time.Duration, log *logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Server{
		svc:        svc,
		defaultTTL: defaultTTL,
		log:        log,
		startTime:  time.Now(),
	}
}

// ========== Version Operations ==========

func (s *Server) AppendVersion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, err := stringField(req, "artifact_id", true)
	if err != nil {
		return nil, toStatus(err)
	}
	doc, err := documentField(req, "content")
	if err != nil {
		return nil, toStatus(err)
	}
	name, err := stringField(req, "name", false)
	if err != nil {
		return nil, toStatus(err)
	}
	authorID, err := stringField(req, "author_id", true)
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.svc.AppendVersion(ctx, artifactID, doc, name, authorID)
	if err != nil {
		return nil, toStatus(err)
	}
	return versionToStruct(v), nil
}

func (s *Server) GetVersion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, err := stringField(req, "artifact_id", true)
	if err != nil {
		return nil, toStatus(err)
	}
	number, err := versionField(req, "version_number")
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.svc.GetVersion(ctx, artifactID, number)
	if err != nil {
		return nil, toStatus(err)
	}
	return versionToStruct(v), nil
}

func (s *Server) ListVersions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, err := stringField(req, "artifact_id", true)
	if err != nil {
		return nil, toStatus(err)
	}

	versions, err := s.svc.ListVersions(ctx, artifactID)
	if err != nil {
		return nil, toStatus(err)
	}
	return versionsToStruct(versions), nil
}

func (s *Server) DiffVersions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, err := stringField(req, "artifact_id", true)
	if err != nil {
		return nil, toStatus(err)
	}
	from, err := versionField(req, "from_version")
	if err != nil {
		return nil, toStatus(err)
	}
	to, err := versionField(req, "to_version")
	if err != nil {
		return nil, toStatus(err)
	}
	labels, err := labelsField(req, "field_labels")
	if err != nil {
		return nil, toStatus(err)
	}

	d, err := s.svc.DiffVersions(ctx, artifactID, from, to, diff.Labels(labels))
	if err != nil {
		return nil, toStatus(err)
	}
	return diffToStruct(d), nil
}

func (s *Server) ListArtifacts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ids, err := s.svc.ListArtifacts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	items := make([]*structpb.Value, len(ids))
	for i, id := range ids {
		items[i] = structpb.NewStringValue(id)
	}
	return newStruct(map[string]*structpb.Value{
		"artifact_ids": structpb.NewListValue(&structpb.ListValue{Values: items}),
	}), nil
}

// ========== Restore Operations ==========

func (s *Server) RestoreFull(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, err := stringField(req, "artifact_id", true)
	if err != nil {
		return nil, toStatus(err)
	}
	target, err := versionField(req, "version_number")
	if err != nil {
		return nil, toStatus(err)
	}
	authorID, err := stringField(req, "author_id", true)
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.svc.RestoreFull(ctx, artifactID, target, authorID)
	if err != nil {
		return nil, toStatus(err)
	}
	return versionToStruct(v), nil
}

func (s *Server) RestoreSelective(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, err := stringField(req, "artifact_id", true)
	if err != nil {
		return nil, toStatus(err)
	}
	target, err := versionField(req, "version_number")
	if err != nil {
		return nil, toStatus(err)
	}
	fieldIDs, err := stringsField(req, "field_ids")
	if err != nil {
		return nil, toStatus(err)
	}
	authorID, err := stringField(req, "author_id", true)
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.svc.RestoreSelective(ctx, artifactID, target, fieldIDs, authorID)
	if err != nil {
		return nil, toStatus(err)
	}
	return versionToStruct(v), nil
}

// ========== Lease Operations ==========

// maxTTLMinutes is the largest lease TTL a time.Duration can hold
const maxTTLMinutes = int64(math.MaxInt64 / time.Minute)

func (s *Server) leaseArgs(req *structpb.Struct) (artifactID, holderID string, ttl time.Duration, err error) {
	if artifactID, err = stringField(req, "artifact_id", true); err != nil {
		return
	}
	if holderID, err = stringField(req, "holder_id", true); err != nil {
		return
	}
	minutes, ok, err := intField(req, "ttl_minutes", false)
	if err != nil {
		return
	}
	ttl = s.defaultTTL
	if ok {
		if minutes > maxTTLMinutes {
			err = invalidArgument("ttl_minutes must be at most %d, got %d", maxTTLMinutes, minutes)
			return
		}
		ttl = time.Duration(minutes) * time.Minute
	}
	return
}

// leaseResponse turns a held lease into a value rather than an error
func leaseResponse(l *lease.Lease, err error) (*structpb.Struct, error) {
	var held *lease.HeldError
	if errors.As(err, &held) {
		return newStruct(map[string]*structpb.Value{
			"acquired": structpb.NewBoolValue(false),
			"lease":    structpb.NewStructValue(leaseToStruct(held.Lease)),
		}), nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]*structpb.Value{
		"acquired": structpb.NewBoolValue(true),
		"lease":    structpb.NewStructValue(leaseToStruct(l)),
	}), nil
}

func (s *Server) AcquireLease(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, holderID, ttl, err := s.leaseArgs(req)
	if err != nil {
		return nil, toStatus(err)
	}
	return leaseResponse(s.svc.AcquireLease(ctx, artifactID, holderID, ttl))
}

func (s *Server) Heartbeat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, holderID, ttl, err := s.leaseArgs(req)
	if err != nil {
		return nil, toStatus(err)
	}
	return leaseResponse(s.svc.Heartbeat(ctx, artifactID, holderID, ttl))
}

func (s *Server) ReleaseLease(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, err := stringField(req, "artifact_id", true)
	if err != nil {
		return nil, toStatus(err)
	}
	holderID, err := stringField(req, "holder_id", true)
	if err != nil {
		return nil, toStatus(err)
	}

	err = s.svc.ReleaseLease(ctx, artifactID, holderID)
	if err != nil && !errors.Is(err, lease.ErrLeaseNotHeld) {
		return nil, toStatus(err)
	}
	return newStruct(map[string]*structpb.Value{
		"released": structpb.NewBoolValue(err == nil),
	}), nil
}

func (s *Server) GetLease(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	artifactID, err := stringField(req, "artifact_id", true)
	if err != nil {
		return nil, toStatus(err)
	}

	l, err := s.svc.GetLease(ctx, artifactID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]*structpb.Value{"held": structpb.NewBoolValue(l != nil)}
	if l != nil {
		out["lease"] = structpb.NewStructValue(leaseToStruct(l))
	}
	return newStruct(out), nil
}

// ========== Commit Operations ==========

func commitRequest(req *structpb.Struct) (conflict.Request, error) {
	var r conflict.Request
	var err error
	if r.ArtifactID, err = stringField(req, "artifact_id", true); err != nil {
		return r, err
	}
	if r.ExpectedVersion, err = versionField(req, "expected_version"); err != nil {
		return r, err
	}
	if r.Content, err = documentField(req, "content"); err != nil {
		return r, err
	}
	if r.Name, err = stringField(req, "name", false); err != nil {
		return r, err
	}
	if r.AuthorID, err = stringField(req, "author_id", true); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Server) CommitWithConflictCheck(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := commitRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := s.svc.CommitWithConflictCheck(ctx, r)
	if err != nil {
		return nil, toStatus(err)
	}
	return commitResultToStruct(res), nil
}

// ResolveConflict takes the original commit fields plus resolution,
// current_version and, for merge, merged_content
func (s *Server) ResolveConflict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resolution, err := stringField(req, "resolution", true)
	if err != nil {
		return nil, toStatus(err)
	}
	current, err := versionField(req, "current_version")
	if err != nil {
		return nil, toStatus(err)
	}
	r, err := commitRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}

	var merged = r.Content
	if _, ok := field(req, "merged_content"); ok {
		if merged, err = documentField(req, "merged_content"); err != nil {
			return nil, toStatus(err)
		}
	} else if conflict.Resolution(resolution) == conflict.Merge {
		return nil, toStatus(invalidArgument("merged_content is required for merge"))
	}

	rec := &conflict.Record{ArtifactID: r.ArtifactID, ExpectedVersion: r.ExpectedVersion, CurrentVersion: current}
	res, err := s.svc.ResolveConflict(ctx, rec, conflict.Resolution(resolution), r, merged)
	if err != nil {
		return nil, toStatus(err)
	}
	return commitResultToStruct(res), nil
}

// ========== Health ==========

func (s *Server) Health(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return newStruct(map[string]*structpb.Value{
		"status":         structpb.NewStringValue("healthy"),
		"uptime_seconds": structpb.NewNumberValue(time.Since(s.startTime).Seconds()),
	}), nil
}
