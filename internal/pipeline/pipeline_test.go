package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	running   []string
	completed []string
	failed    map[string]string
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{failed: make(map[string]string)}
}

func (f *fakeStatus) MarkRunning(_ context.Context, _, token string) error {
	f.running = append(f.running, token)
	return nil
}

func (f *fakeStatus) MarkCompleted(_ context.Context, _, token string) error {
	f.completed = append(f.completed, token)
	return nil
}

func (f *fakeStatus) MarkFailed(_ context.Context, _, token, errMsg string) error {
	f.failed[token] = errMsg
	return nil
}

func TestDriveRunsAllStepsInOrder(t *testing.T) {
	registry := NewRegistry()
	var order []string
	registry.Register("a", func(_ context.Context, _ string, _ Fields) error {
		order = append(order, "a")
		return nil
	})
	registry.Register("b", func(_ context.Context, _ string, _ Fields) error {
		order = append(order, "b")
		return nil
	})

	status := newFakeStatus()
	result := Drive(context.Background(), registry, status, "op1", "content1", Fields{}, []Step{{Token: "a"}, {Token: "b"}})

	assert.True(t, result.Completed)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, []string{"a", "b"}, status.completed)
}

func TestDrivePassesContentIDToHandlers(t *testing.T) {
	registry := NewRegistry()
	var seen string
	registry.Register("a", func(_ context.Context, contentID string, _ Fields) error {
		seen = contentID
		return nil
	})

	status := newFakeStatus()
	result := Drive(context.Background(), registry, status, "op1", "content1", Fields{}, []Step{{Token: "a"}})

	assert.True(t, result.Completed)
	assert.Equal(t, "content1", seen)
}

func TestDriveContinuesPastOptionalFailure(t *testing.T) {
	registry := NewRegistry()
	registry.Register("optional", func(_ context.Context, _ string, _ Fields) error {
		return assert.AnError
	})
	ran := false
	registry.Register("next", func(_ context.Context, _ string, _ Fields) error {
		ran = true
		return nil
	})

	status := newFakeStatus()
	result := Drive(context.Background(), registry, status, "op1", "content1", Fields{}, []Step{
		{Token: "optional", Required: false},
		{Token: "next", Required: false},
	})

	assert.False(t, result.Completed)
	assert.True(t, ran)
	assert.Contains(t, status.failed, "optional")
	assert.Equal(t, []string{"next"}, status.completed)
}

func TestDriveAbortsOnRequiredFailure(t *testing.T) {
	registry := NewRegistry()
	registry.Register("required", func(_ context.Context, _ string, _ Fields) error {
		return assert.AnError
	})
	ran := false
	registry.Register("never", func(_ context.Context, _ string, _ Fields) error {
		ran = true
		return nil
	})

	status := newFakeStatus()
	result := Drive(context.Background(), registry, status, "op1", "content1", Fields{}, []Step{
		{Token: "required", Required: true},
		{Token: "never", Required: false},
	})

	assert.False(t, result.Completed)
	assert.False(t, ran)
	assert.NotEmpty(t, result.Error)
}

func TestDriveMissingHandlerFailsStep(t *testing.T) {
	registry := NewRegistry()
	status := newFakeStatus()
	result := Drive(context.Background(), registry, status, "op1", "content1", Fields{}, []Step{{Token: "missing"}})

	require.False(t, result.Completed)
	assert.Contains(t, status.failed, "missing")
}
