package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/lease"
	"github.com/nainya/artifactstore/pkg/storage"
	"github.com/nainya/artifactstore/pkg/version"
)

type fixture struct {
	store    *version.Store
	leases   *lease.Manager
	resolver *Resolver
	now      time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{now: time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.store, err = version.NewStore(db, 0, version.WithClock(clock))
	require.NoError(t, err)
	f.leases = lease.NewManager(db, lease.WithClock(clock))
	f.resolver = NewResolver(f.store, f.leases, zerolog.Nop())
	return f
}

func body(text string) content.Document {
	return content.Document{"body": content.String(text)}
}

func TestCommitOnLatest(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res, err := f.resolver.Commit(ctx, Request{ArtifactID: "a1", ExpectedVersion: 0, Content: body("first"), Name: "Plan", AuthorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
	assert.Equal(t, int64(1), res.Version.Number)
	assert.Nil(t, res.Conflict)

	res, err = f.resolver.Commit(ctx, Request{ArtifactID: "a1", ExpectedVersion: 1, Content: body("second"), AuthorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
	assert.Equal(t, int64(2), res.Version.Number)
	assert.Equal(t, "Plan", res.Version.Name, "empty name inherits the current name")
}

func TestConflictThenRetry(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	for i, author := range []string{"alice", "bob", "carol"} {
		f.now = f.now.Add(time.Minute)
		_, err := f.store.Append(ctx, "a1", body(author), "Plan", author)
		require.NoError(t, err, "seed %d", i)
	}
	lastEdit := f.now

	res, err := f.resolver.Commit(ctx, Request{ArtifactID: "a1", ExpectedVersion: 2, Content: body("stale"), AuthorID: "dave"})
	require.NoError(t, err)
	assert.Equal(t, Conflicted, res.Status)
	assert.Nil(t, res.Version)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, int64(2), res.Conflict.ExpectedVersion)
	assert.Equal(t, int64(3), res.Conflict.CurrentVersion)
	assert.Equal(t, "carol", res.Conflict.LastEditor)
	assert.Equal(t, lastEdit, res.Conflict.LastEditedAt)
	assert.Equal(t, []Resolution{Overwrite, Merge, Cancel}, res.Conflict.Options)

	latest, err := f.store.Latest(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest, "no write on conflict")

	res, err = f.resolver.Commit(ctx, Request{ArtifactID: "a1", ExpectedVersion: 3, Content: body("fresh"), AuthorID: "dave"})
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
	assert.Equal(t, int64(4), res.Version.Number)
}

func TestConflictReportsLease(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.store.Append(ctx, "a1", body("v1"), "", "alice")
	require.NoError(t, err)
	_, err = f.store.Append(ctx, "a1", body("v2"), "", "alice")
	require.NoError(t, err)
	_, err = f.leases.Acquire(ctx, "a1", "alice", 10*time.Minute)
	require.NoError(t, err)

	res, err := f.resolver.Commit(ctx, Request{ArtifactID: "a1", ExpectedVersion: 1, Content: body("x"), AuthorID: "bob"})
	require.NoError(t, err)
	require.Equal(t, Conflicted, res.Status)
	require.NotNil(t, res.Conflict.Lease)
	assert.Equal(t, "alice", res.Conflict.Lease.HolderID)
}

func TestLeaseDoesNotBlockCommit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.store.Append(ctx, "a1", body("v1"), "", "alice")
	require.NoError(t, err)
	_, err = f.leases.Acquire(ctx, "a1", "alice", 10*time.Minute)
	require.NoError(t, err)

	res, err := f.resolver.Commit(ctx, Request{ArtifactID: "a1", ExpectedVersion: 1, Content: body("bypass"), AuthorID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
	require.NotNil(t, res.LeaseWarning)
	assert.Equal(t, "alice", res.LeaseWarning.HolderID)

	res, err = f.resolver.Commit(ctx, Request{ArtifactID: "a1", ExpectedVersion: 2, Content: body("own"), AuthorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
	assert.Nil(t, res.LeaseWarning)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.store.Append(ctx, "a1", body("base"), "", "alice")
	require.NoError(t, err)
	_, err = f.store.Append(ctx, "a1", body("theirs"), "", "bob")
	require.NoError(t, err)

	req := Request{ArtifactID: "a1", ExpectedVersion: 1, Content: body("mine"), AuthorID: "alice"}
	res, err := f.resolver.Commit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, Conflicted, res.Status)
	rec := res.Conflict

	cancelled, err := f.resolver.Resolve(ctx, rec, Cancel, req, nil)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, cancelled.Status)
	latest, err := f.store.Latest(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	_, err = f.resolver.Resolve(ctx, rec, Merge, req, nil)
	assert.Error(t, err)

	// overwrite and merge need the record they answer
	_, err = f.resolver.Resolve(ctx, nil, Overwrite, req, nil)
	assert.ErrorIs(t, err, ErrMissingRecord)
	_, err = f.resolver.Resolve(ctx, nil, Merge, req, body("x"))
	assert.ErrorIs(t, err, ErrMissingRecord)
	cancelled, err = f.resolver.Resolve(ctx, nil, Cancel, req, nil)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, cancelled.Status)

	merged, err := f.resolver.Resolve(ctx, rec, Merge, req, body("mine and theirs"))
	require.NoError(t, err)
	assert.Equal(t, Committed, merged.Status)
	assert.Equal(t, int64(3), merged.Version.Number)
	assert.Equal(t, content.String("mine and theirs"), merged.Version.Content["body"])

	// the record is stale now, so overwrite conflicts again
	again, err := f.resolver.Resolve(ctx, rec, Overwrite, req, nil)
	require.NoError(t, err)
	assert.Equal(t, Conflicted, again.Status)

	overwritten, err := f.resolver.Resolve(ctx, again.Conflict, Overwrite, req, nil)
	require.NoError(t, err)
	assert.Equal(t, Committed, overwritten.Status)
	assert.Equal(t, int64(4), overwritten.Version.Number)
	assert.Equal(t, content.String("mine"), overwritten.Version.Content["body"])

	// the overwritten edit is still in history
	v2, err := f.store.Get(ctx, "a1", 2)
	require.NoError(t, err)
	assert.Equal(t, content.String("theirs"), v2.Content["body"])

	_, err = f.resolver.Resolve(ctx, rec, Resolution("rebase"), req, nil)
	assert.True(t, errors.Is(err, ErrUnknownResolution))
}

func TestCommitValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.resolver.Commit(ctx, Request{ExpectedVersion: 0})
	assert.Error(t, err)
	_, err = f.resolver.Commit(ctx, Request{ArtifactID: "a1", ExpectedVersion: -1})
	assert.Error(t, err)
}

type failingLeases struct{}

func (failingLeases) Get(context.Context, string) (*lease.Lease, error) {
	return nil, errors.New("lease backend down")
}

func TestLeaseLookupFailureDoesNotBlock(t *testing.T) {
	f := setup(t)
	r := NewResolver(f.store, failingLeases{}, zerolog.Nop())

	res, err := r.Commit(context.Background(), Request{ArtifactID: "a1", Content: body("x"), AuthorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
}
