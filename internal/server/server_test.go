// Integration tests for ArtifactStore gRPC server
package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/artifactstore/internal/logger"
	"github.com/nainya/artifactstore/internal/metrics"
	"github.com/nainya/artifactstore/pkg/artifact"
	"github.com/nainya/artifactstore/pkg/conflict"
	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/diff"
	"github.com/nainya/artifactstore/pkg/storage"
)

const bufSize = 1024 * 1024

type testEnv struct {
	client  *Client
	conn    *grpc.ClientConn
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	log     *bytes.Buffer
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.OpenInMemory()
	require.NoError(t, err)

	env := &testEnv{reg: prometheus.NewRegistry(), log: &bytes.Buffer{}}
	env.metrics = metrics.NewMetrics(env.reg)
	log := logger.NewLogger(logger.Config{Level: "info", Output: env.log})

	svc, err := artifact.New(db, artifact.Options{Metrics: env.metrics, Logger: log})
	require.NoError(t, err)

	lis := bufconn.Listen(bufSize)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(GrpcMetricsInterceptor(env.metrics, log)))
	RegisterArtifactServiceServer(grpcServer, NewServer(svc, 15*time.Minute, log))
	reflection.Register(grpcServer)

	go func() {
		// Serve returns once the listener closes during cleanup
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	env.conn = conn
	env.client = NewClient(conn)

	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
		lis.Close()
		env.metrics.Close()
		db.Close()
	})
	return env
}

func planDoc(summary string) content.Document {
	return content.Document{
		"summary": content.String(summary),
		"owner":   content.String("ops"),
	}
}

func TestAppendGetAndList(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	v1, err := env.client.AppendVersion(ctx, "plan", planDoc("Draft plan"), "Plan", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Number)
	assert.False(t, v1.CreatedAt.IsZero())

	_, err = env.client.AppendVersion(ctx, "plan", planDoc("Final plan"), "Plan", "bob")
	require.NoError(t, err)

	got, err := env.client.GetVersion(ctx, "plan", 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.AuthorID)
	assert.True(t, content.EqualDocuments(planDoc("Draft plan"), got.Content))

	versions, err := env.client.ListVersions(ctx, "plan")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(2), versions[0].Number)
	assert.Equal(t, int64(1), versions[1].Number)

	ids, err := env.client.ListArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"plan"}, ids)
}

func TestContentTypesSurviveTransport(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	doc := content.Document{
		"null":   content.Null(),
		"flag":   content.Bool(true),
		"budget": content.Number(1250.5),
		"tags":   content.List(content.String("q3"), content.Number(2)),
		"nested": content.Map(map[string]content.Value{"k": content.String("v")}),
	}
	_, err := env.client.AppendVersion(ctx, "typed", doc, "", "alice")
	require.NoError(t, err)

	got, err := env.client.GetVersion(ctx, "typed", 1)
	require.NoError(t, err)
	assert.True(t, content.EqualDocuments(doc, got.Content))
	assert.True(t, got.Content.Has("null"))
}

func TestErrorCodes(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.client.GetVersion(ctx, "missing", 1)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.client.AppendVersion(ctx, "", planDoc("x"), "", "alice")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.AppendVersion(ctx, "a1", planDoc("x"), "", "alice")
	require.NoError(t, err)

	_, err = env.client.RestoreSelective(ctx, "a1", 1, []string{"unknown"}, "alice")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.DiffVersions(ctx, "a1", 1, 5, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))

	// negative version numbers are rejected before reaching the store
	out := new(structpb.Struct)
	req, err := structpb.NewStruct(map[string]any{"artifact_id": "a1", "version_number": -1})
	require.NoError(t, err)
	err = env.conn.Invoke(ctx, "/"+ServiceName+"/"+MethodGetVersion, req, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req, err = structpb.NewStruct(map[string]any{"artifact_id": "a1", "version_number": 1.5})
	require.NoError(t, err)
	err = env.conn.Invoke(ctx, "/"+ServiceName+"/"+MethodGetVersion, req, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestLeaseTTLBounds(t *testing.T) {
	srv := &Server{defaultTTL: 15 * time.Minute}
	args := func(minutes any) map[string]any {
		m := map[string]any{"artifact_id": "a1", "holder_id": "alice"}
		if minutes != nil {
			m["ttl_minutes"] = minutes
		}
		return m
	}

	tests := []struct {
		name    string
		minutes any
		want    time.Duration
		wantErr bool
	}{
		{"default", nil, 15 * time.Minute, false},
		{"explicit", 30, 30 * time.Minute, false},
		{"largest", float64(maxTTLMinutes), time.Duration(maxTTLMinutes) * time.Minute, false},
		{"overflow", float64(310000000), 0, true},
		{"far overflow", float64(int64(1) << 40), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := structpb.NewStruct(args(tt.minutes))
			require.NoError(t, err)

			_, _, ttl, err := srv.leaseArgs(req)
			if tt.wantErr {
				require.ErrorIs(t, err, errInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ttl)
			assert.Positive(t, ttl)
		})
	}

	env := setupTestServer(t)
	req, err := structpb.NewStruct(args(float64(int64(1) << 40)))
	require.NoError(t, err)
	err = env.conn.Invoke(context.Background(), "/"+ServiceName+"/"+MethodAcquireLease, req, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDiffOverTransport(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.client.AppendVersion(ctx, "plan", content.Document{"summary": content.String("Draft plan")}, "Plan", "alice")
	require.NoError(t, err)
	_, err = env.client.AppendVersion(ctx, "plan", content.Document{
		"summary": content.String("Final plan"),
		"budget":  content.Number(100),
	}, "Plan v2", "bob")
	require.NoError(t, err)

	d, err := env.client.DiffVersions(ctx, "plan", 1, 2, map[string]string{"summary": "Executive Summary"})
	require.NoError(t, err)

	assert.Equal(t, diff.Summary{AddedFields: 1, ModifiedFields: 1, TotalChanges: 2}, d.Summary)
	assert.True(t, d.NameChanged)
	assert.Equal(t, "Plan v2", d.NewName)
	require.Len(t, d.Fields, 2)
	assert.Equal(t, diff.FieldAdded, d.Fields[0].Type)
	assert.Equal(t, "Executive Summary", d.Fields[1].Label)
	assert.Equal(t, []diff.Segment{
		{Type: diff.Removed, Value: "Draft"},
		{Type: diff.Added, Value: "Final"},
		{Type: diff.Unchanged, Value: " plan"},
	}, d.Fields[1].WordDiff)

	self, err := env.client.DiffVersions(ctx, "plan", 2, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, self.Summary.TotalChanges)
	assert.Empty(t, self.Fields)
}

func TestRestoreOverTransport(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.client.AppendVersion(ctx, "a1", content.Document{"a": content.String("1"), "b": content.String("1")}, "one", "alice")
	require.NoError(t, err)
	_, err = env.client.AppendVersion(ctx, "a1", content.Document{"a": content.String("2"), "b": content.String("2")}, "two", "bob")
	require.NoError(t, err)

	full, err := env.client.RestoreFull(ctx, "a1", 1, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(3), full.Number)
	assert.Equal(t, "one", full.Name)

	sel, err := env.client.RestoreSelective(ctx, "a1", 2, []string{"b"}, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(4), sel.Number)
	assert.Equal(t, content.String("1"), sel.Content["a"])
	assert.Equal(t, content.String("2"), sel.Content["b"])
}

func TestLeasesAreValues(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	res, err := env.client.AcquireLease(ctx, "a1", "alice", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Equal(t, "alice", res.Lease.HolderID)

	res, err = env.client.AcquireLease(ctx, "a1", "bob", 0)
	require.NoError(t, err, "a held lease is a value, not an error")
	assert.False(t, res.Acquired)
	assert.Equal(t, "alice", res.Lease.HolderID)

	hb, err := env.client.Heartbeat(ctx, "a1", "alice", 20*time.Minute)
	require.NoError(t, err)
	assert.True(t, hb.Acquired)
	assert.True(t, hb.Lease.ExpiresAt.After(res.Lease.ExpiresAt))

	current, err := env.client.GetLease(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "alice", current.HolderID)

	released, err := env.client.ReleaseLease(ctx, "a1", "bob")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = env.client.ReleaseLease(ctx, "a1", "alice")
	require.NoError(t, err)
	assert.True(t, released)

	current, err = env.client.GetLease(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, current)

	out := new(structpb.Struct)
	req, err := structpb.NewStruct(map[string]any{"artifact_id": "a1", "holder_id": "alice", "ttl_minutes": 0})
	require.NoError(t, err)
	err = env.conn.Invoke(ctx, "/"+ServiceName+"/"+MethodAcquireLease, req, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCommitConflictAndResolve(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	for _, author := range []string{"alice", "bob", "carol"} {
		_, err := env.client.AppendVersion(ctx, "a1", planDoc(author), "Plan", author)
		require.NoError(t, err)
	}
	_, err := env.client.AcquireLease(ctx, "a1", "carol", 10*time.Minute)
	require.NoError(t, err)

	req := conflict.Request{ArtifactID: "a1", ExpectedVersion: 2, Content: planDoc("dave"), AuthorID: "dave"}
	res, err := env.client.CommitWithConflictCheck(ctx, req)
	require.NoError(t, err)
	require.Equal(t, conflict.Conflicted, res.Status)
	assert.Equal(t, int64(3), res.Conflict.CurrentVersion)
	assert.Equal(t, "carol", res.Conflict.LastEditor)
	assert.False(t, res.Conflict.LastEditedAt.IsZero())
	require.NotNil(t, res.Conflict.Lease)
	assert.Equal(t, "carol", res.Conflict.Lease.HolderID)
	assert.Equal(t, []conflict.Resolution{conflict.Overwrite, conflict.Merge, conflict.Cancel}, res.Conflict.Options)

	cancelled, err := env.client.ResolveConflict(ctx, res.Conflict, conflict.Cancel, req, nil)
	require.NoError(t, err)
	assert.Equal(t, conflict.Cancelled, cancelled.Status)

	_, err = env.client.ResolveConflict(ctx, res.Conflict, conflict.Merge, req, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	merged, err := env.client.ResolveConflict(ctx, res.Conflict, conflict.Merge, req, planDoc("carol+dave"))
	require.NoError(t, err)
	require.Equal(t, conflict.Committed, merged.Status)
	assert.Equal(t, int64(4), merged.Version.Number)
	assert.Equal(t, "Plan", merged.Version.Name)
	require.NotNil(t, merged.LeaseWarning)
	assert.Equal(t, "carol", merged.LeaseWarning.HolderID)

	req.ExpectedVersion = 4
	res, err = env.client.CommitWithConflictCheck(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, conflict.Committed, res.Status)
	assert.Equal(t, int64(5), res.Version.Number)
}

func TestInterceptorRecordsMetricsAndRequestID(t *testing.T) {
	env := setupTestServer(t)

	ctx := metadata.AppendToOutgoingContext(context.Background(), RequestIDHeader, "req-123")
	var header metadata.MD
	out := new(structpb.Struct)
	err := env.conn.Invoke(ctx, "/"+ServiceName+"/"+MethodHealth, &structpb.Struct{}, out, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.GetFields()["status"].GetStringValue())
	assert.Equal(t, []string{"req-123"}, header.Get(RequestIDHeader))

	_, err = env.client.GetVersion(context.Background(), "missing", 1)
	require.Error(t, err)

	method := "/" + ServiceName + "/"
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.GrpcRequestsTotal.WithLabelValues(method+MethodHealth, "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.GrpcRequestsTotal.WithLabelValues(method+MethodGetVersion, "NotFound")))
	assert.Contains(t, env.log.String(), `"request_id":"req-123"`)
}

func TestObservabilityEndpoints(t *testing.T) {
	env := setupTestServer(t)
	log := logger.NewLogger(logger.Config{Level: "error", Output: &bytes.Buffer{}})
	obs := NewObservabilityServer(0, env.reg, log)

	_, err := env.client.Health(context.Background())
	require.NoError(t, err)

	srv := httptest.NewServer(obs.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	obs.SetReady(true)
	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "artifactstore_grpc_requests_total"))
}

func TestReflectionDescribesService(t *testing.T) {
	env := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := reflectionpb.NewServerReflectionClient(env.conn).ServerReflectionInfo(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: ServiceName},
	}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	require.NoError(t, stream.CloseSend())

	files := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	require.NotEmpty(t, files, "error response: %v", resp.GetErrorResponse())

	var svc *descriptorpb.ServiceDescriptorProto
	for _, raw := range files {
		fdp := new(descriptorpb.FileDescriptorProto)
		require.NoError(t, proto.Unmarshal(raw, fdp))
		if fdp.GetName() == serviceFile {
			assert.Equal(t, "artifactstore.v1", fdp.GetPackage())
			require.Len(t, fdp.GetService(), 1)
			svc = fdp.GetService()[0]
		}
	}
	require.NotNil(t, svc)
	assert.Equal(t, "ArtifactService", svc.GetName())

	names := map[string]bool{}
	for _, m := range svc.GetMethod() {
		names[m.GetName()] = true
		assert.Equal(t, ".google.protobuf.Struct", m.GetInputType())
		assert.Equal(t, ".google.protobuf.Struct", m.GetOutputType())
	}
	require.Len(t, names, len(ArtifactServiceDesc.Methods))
	for _, m := range ArtifactServiceDesc.Methods {
		assert.True(t, names[m.MethodName], m.MethodName)
	}
}
