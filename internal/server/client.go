package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/artifactstore/pkg/conflict"
	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/diff"
	"github.com/nainya/artifactstore/pkg/lease"
	"github.com/nainya/artifactstore/pkg/version"
)

// Client is a typed ArtifactService client
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a gRPC connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// LeaseResult reports an acquire or heartbeat. When Acquired is false,
// Lease is the live lease held by someone else.
type LeaseResult struct {
	Acquired bool
	Lease    *lease.Lease
}

func (c *Client) call(ctx context.Context, method string, fields map[string]*structpb.Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, newStruct(fields), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func documentValue(d content.Document) *structpb.Value {
	return structpb.NewStructValue(content.DocumentToStruct(d))
}

func (c *Client) AppendVersion(ctx context.Context, artifactID string, doc content.Document, name, authorID string) (*version.Version, error) {
	out, err := c.call(ctx, MethodAppendVersion, map[string]*structpb.Value{
		"artifact_id": structpb.NewStringValue(artifactID),
		"content":     documentValue(doc),
		"name":        structpb.NewStringValue(name),
		"author_id":   structpb.NewStringValue(authorID),
	})
	if err != nil {
		return nil, err
	}
	return versionFromStruct(out)
}

func (c *Client) GetVersion(ctx context.Context, artifactID string, number int64) (*version.Version, error) {
	out, err := c.call(ctx, MethodGetVersion, map[string]*structpb.Value{
		"artifact_id":    structpb.NewStringValue(artifactID),
		"version_number": intValue(number),
	})
	if err != nil {
		return nil, err
	}
	return versionFromStruct(out)
}

func (c *Client) ListVersions(ctx context.Context, artifactID string) ([]*version.Version, error) {
	out, err := c.call(ctx, MethodListVersions, map[string]*structpb.Value{
		"artifact_id": structpb.NewStringValue(artifactID),
	})
	if err != nil {
		return nil, err
	}

	items := listField(out, "versions")
	versions := make([]*version.Version, 0, len(items))
	for _, item := range items {
		v, err := versionFromStruct(item.GetStructValue())
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (c *Client) DiffVersions(ctx context.Context, artifactID string, from, to int64, labels map[string]string) (*diff.VersionDiff, error) {
	req := map[string]*structpb.Value{
		"artifact_id":  structpb.NewStringValue(artifactID),
		"from_version": intValue(from),
		"to_version":   intValue(to),
	}
	if len(labels) > 0 {
		lf := make(map[string]*structpb.Value, len(labels))
		for k, v := range labels {
			lf[k] = structpb.NewStringValue(v)
		}
		req["field_labels"] = structpb.NewStructValue(newStruct(lf))
	}

	out, err := c.call(ctx, MethodDiffVersions, req)
	if err != nil {
		return nil, err
	}
	return diffFromStruct(out), nil
}

func (c *Client) RestoreFull(ctx context.Context, artifactID string, target int64, authorID string) (*version.Version, error) {
	out, err := c.call(ctx, MethodRestoreFull, map[string]*structpb.Value{
		"artifact_id":    structpb.NewStringValue(artifactID),
		"version_number": intValue(target),
		"author_id":      structpb.NewStringValue(authorID),
	})
	if err != nil {
		return nil, err
	}
	return versionFromStruct(out)
}

func (c *Client) RestoreSelective(ctx context.Context, artifactID string, target int64, fieldIDs []string, authorID string) (*version.Version, error) {
	ids := make([]*structpb.Value, len(fieldIDs))
	for i, id := range fieldIDs {
		ids[i] = structpb.NewStringValue(id)
	}
	out, err := c.call(ctx, MethodRestoreSelective, map[string]*structpb.Value{
		"artifact_id":    structpb.NewStringValue(artifactID),
		"version_number": intValue(target),
		"field_ids":      structpb.NewListValue(&structpb.ListValue{Values: ids}),
		"author_id":      structpb.NewStringValue(authorID),
	})
	if err != nil {
		return nil, err
	}
	return versionFromStruct(out)
}

func (c *Client) leaseCall(ctx context.Context, method, artifactID, holderID string, ttl time.Duration) (*LeaseResult, error) {
	req := map[string]*structpb.Value{
		"artifact_id": structpb.NewStringValue(artifactID),
		"holder_id":   structpb.NewStringValue(holderID),
	}
	if ttl != 0 {
		req["ttl_minutes"] = intValue(int64(ttl / time.Minute))
	}

	out, err := c.call(ctx, method, req)
	if err != nil {
		return nil, err
	}
	l, err := leaseFromStruct(structField(out, "lease"))
	if err != nil {
		return nil, err
	}
	return &LeaseResult{Acquired: out.GetFields()["acquired"].GetBoolValue(), Lease: l}, nil
}

// AcquireLease requests a lease. ttl is sent in whole minutes; zero uses
// the server default.
func (c *Client) AcquireLease(ctx context.Context, artifactID, holderID string, ttl time.Duration) (*LeaseResult, error) {
	return c.leaseCall(ctx, MethodAcquireLease, artifactID, holderID, ttl)
}

func (c *Client) Heartbeat(ctx context.Context, artifactID, holderID string, ttl time.Duration) (*LeaseResult, error) {
	return c.leaseCall(ctx, MethodHeartbeat, artifactID, holderID, ttl)
}

// ReleaseLease reports whether the holder had a live lease to release
func (c *Client) ReleaseLease(ctx context.Context, artifactID, holderID string) (bool, error) {
	out, err := c.call(ctx, MethodReleaseLease, map[string]*structpb.Value{
		"artifact_id": structpb.NewStringValue(artifactID),
		"holder_id":   structpb.NewStringValue(holderID),
	})
	if err != nil {
		return false, err
	}
	return out.GetFields()["released"].GetBoolValue(), nil
}

// GetLease returns the live lease or nil
func (c *Client) GetLease(ctx context.Context, artifactID string) (*lease.Lease, error) {
	out, err := c.call(ctx, MethodGetLease, map[string]*structpb.Value{
		"artifact_id": structpb.NewStringValue(artifactID),
	})
	if err != nil {
		return nil, err
	}
	return leaseFromStruct(structField(out, "lease"))
}

func commitFields(req conflict.Request) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		"artifact_id":      structpb.NewStringValue(req.ArtifactID),
		"expected_version": intValue(req.ExpectedVersion),
		"content":          documentValue(req.Content),
		"name":             structpb.NewStringValue(req.Name),
		"author_id":        structpb.NewStringValue(req.AuthorID),
	}
}

func (c *Client) CommitWithConflictCheck(ctx context.Context, req conflict.Request) (*conflict.Result, error) {
	out, err := c.call(ctx, MethodCommitWithConflictCheck, commitFields(req))
	if err != nil {
		return nil, err
	}
	return commitResultFromStruct(out)
}

// ResolveConflict resubmits req under the chosen resolution. merged is
// required for conflict.Merge and ignored otherwise.
func (c *Client) ResolveConflict(ctx context.Context, rec *conflict.Record, choice conflict.Resolution, req conflict.Request, merged content.Document) (*conflict.Result, error) {
	fields := commitFields(req)
	fields["resolution"] = structpb.NewStringValue(string(choice))
	fields["current_version"] = intValue(rec.CurrentVersion)
	if choice == conflict.Merge && merged != nil {
		fields["merged_content"] = documentValue(merged)
	}

	out, err := c.call(ctx, MethodResolveConflict, fields)
	if err != nil {
		return nil, err
	}
	return commitResultFromStruct(out)
}

func (c *Client) ListArtifacts(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, MethodListArtifacts, nil)
	if err != nil {
		return nil, err
	}
	items := listField(out, "artifact_ids")
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.GetStringValue())
	}
	return ids, nil
}

// Health returns the server status string
func (c *Client) Health(ctx context.Context) (string, error) {
	out, err := c.call(ctx, MethodHealth, nil)
	if err != nil {
		return "", err
	}
	return str(out, "status"), nil
}
