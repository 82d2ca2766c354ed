package contentstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func registryRecording(calls *[]string) *pipeline.Registry {
	r := pipeline.NewRegistry()
	r.Register("index:idx1", func(_ context.Context, _ string, _ pipeline.Fields) error {
		*calls = append(*calls, "index:idx1")
		return nil
	})
	r.Register("index:idx1:delete", func(_ context.Context, _ string, _ pipeline.Fields) error {
		*calls = append(*calls, "index:idx1:delete")
		return nil
	})
	return r
}

func TestUpsertAssignsIDAndCompletesSteps(t *testing.T) {
	s := openTestStore(t)
	var calls []string
	registry := registryRecording(&calls)

	result, err := s.Upsert(context.Background(), UpsertRequest{Content: "hello world"},
		[]IndexDescriptor{{ID: "idx1", Required: true}}, registry)
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.True(t, result.Completed)
	assert.False(t, result.Queued)
	assert.Equal(t, []string{"index:idx1"}, calls)

	rec, err := s.Get(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", rec.Content)
}

func TestUpsertPreservesCreatedAtOnUpdate(t *testing.T) {
	s := openTestStore(t)
	registry := pipeline.NewRegistry()

	first, err := s.Upsert(context.Background(), UpsertRequest{Content: "v1"}, nil, registry)
	require.NoError(t, err)
	rec1, err := s.Get(context.Background(), first.ID)
	require.NoError(t, err)

	second, err := s.Upsert(context.Background(), UpsertRequest{ID: first.ID, Content: "v2"}, nil, registry)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	rec2, err := s.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", rec2.Content)
	assert.Equal(t, rec1.CreatedAt, rec2.CreatedAt)
}

func TestUpsertRequiredStepFailureLeavesOperationQueued(t *testing.T) {
	s := openTestStore(t)
	registry := pipeline.NewRegistry()
	registry.Register("index:idx1", func(_ context.Context, _ string, _ pipeline.Fields) error {
		return assert.AnError
	})

	result, err := s.Upsert(context.Background(), UpsertRequest{Content: "x"},
		[]IndexDescriptor{{ID: "idx1", Required: true}}, registry)
	require.NoError(t, err)
	assert.False(t, result.Completed)
	assert.True(t, result.Queued)
	assert.NotEmpty(t, result.Error)

	// The content row itself is still written even though indexing failed.
	rec, err := s.Get(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", rec.Content)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, kberrors.NotFound, kberrors.KindOf(err))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	var calls []string
	registry := registryRecording(&calls)

	result, err := s.Delete(context.Background(), "never-existed", []IndexDescriptor{{ID: "idx1"}}, registry)
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, []string{"index:idx1:delete"}, calls)
}

func TestListOrdersByCreatedAtDescThenIDAsc(t *testing.T) {
	s := openTestStore(t)
	registry := pipeline.NewRegistry()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := s.Upsert(context.Background(), UpsertRequest{Content: "item"}, nil, registry)
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	page, err := s.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	// Most recently created first.
	assert.Equal(t, ids[2], page[0].ID)
}

func TestUpsertDeduplicatesTagsCaseInsensitively(t *testing.T) {
	s := openTestStore(t)
	registry := pipeline.NewRegistry()

	result, err := s.Upsert(context.Background(), UpsertRequest{
		Content: "x",
		Tags:    []Tag{{Key: "Topic", Value: "Go"}, {Key: "topic", Value: "go"}},
	}, nil, registry)
	require.NoError(t, err)

	rec, err := s.Get(context.Background(), result.ID)
	require.NoError(t, err)
	require.Len(t, rec.Tags, 1)
	assert.Equal(t, "Topic", rec.Tags[0].Key)
}
