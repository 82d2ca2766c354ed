package kberrors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(2), WithResetTimeout(50*time.Millisecond))
	boom := errors.New("boom")

	require.Error(t, cb.Execute(func() error { return boom }))
	assert.True(t, cb.Allow())

	require.Error(t, cb.Execute(func() error { return boom }))
	assert.False(t, cb.Allow())

	err := cb.Execute(func() error { return nil })
	require.Error(t, err)
	assert.Equal(t, Transport, KindOf(err))
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	assert.False(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.True(t, cb.Allow())
}
