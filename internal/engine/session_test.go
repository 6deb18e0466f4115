package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTransitions(t *testing.T) {
	rs, err := LoadRules(Config{})
	require.NoError(t, err)
	s, err := NewSession(Config{NoCache: true}, rs, WithSources(map[string][]byte{"a.php": []byte(vulnerablePHP)}))
	require.NoError(t, err)
	assert.Equal(t, Idle, s.State())

	_, err = s.Report()
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.ErrorIs(t, s.Close(), ErrInvalidTransition)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, Aggregating, s.State())
	assert.ErrorIs(t, s.Run(context.Background()), ErrInvalidTransition)

	rep, err := s.Report()
	require.NoError(t, err)
	assert.Equal(t, Reported, s.State())
	assert.Equal(t, s.ID(), rep.SessionID)
	assert.NotEmpty(t, rep.Findings)

	require.NoError(t, s.Close())
	assert.Equal(t, Idle, s.State())

	// a closed session can run again with a fresh aggregator
	require.NoError(t, s.Run(context.Background()))
	again, err := s.Report()
	require.NoError(t, err)
	assert.Equal(t, rep.Findings, again.Findings)
}

func TestSessionWalkFailureReturnsToIdle(t *testing.T) {
	rs, err := LoadRules(Config{})
	require.NoError(t, err)
	s, err := NewSession(Config{Root: "/does/not/exist", NoCache: true}, rs)
	require.NoError(t, err)
	assert.Error(t, s.Run(context.Background()))
	assert.Equal(t, Idle, s.State())
}

func TestNewSessionNeedsRules(t *testing.T) {
	_, err := NewSession(Config{}, nil)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "scanning", Scanning.String())
	assert.Equal(t, "state(9)", State(9).String())
}
