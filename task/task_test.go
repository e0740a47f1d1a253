package task

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name     string
	setupErr error
	stepErr  error
	trace    *[]string
	steps    atomic.Int64
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Setup(context.Context) error {
	*r.trace = append(*r.trace, "setup "+r.name)
	return r.setupErr
}

func (r *recorder) Step(context.Context) error {
	if r.trace != nil {
		*r.trace = append(*r.trace, "step "+r.name)
	}
	r.steps.Add(1)
	return r.stepErr
}

func TestManager_Order(t *testing.T) {
	var trace []string
	m := NewManager(time.Millisecond, log.New(io.Discard))
	m.Add(&recorder{name: "a", trace: &trace})
	m.Add(&recorder{name: "b", trace: &trace, stepErr: errors.New("boom")})
	m.Add(&recorder{name: "c", trace: &trace})

	require.NoError(t, m.Setup(context.Background()))
	m.StepAll(context.Background())

	assert.Equal(t, []string{
		"setup a", "setup b", "setup c",
		"step a", "step b", "step c",
	}, trace)
}

func TestManager_SetupFailure(t *testing.T) {
	var trace []string
	m := NewManager(time.Millisecond, log.New(io.Discard))
	m.Add(&recorder{name: "a", trace: &trace, setupErr: errors.New("no port")})
	m.Add(&recorder{name: "b", trace: &trace})

	err := m.Setup(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "a setup")
	assert.Equal(t, []string{"setup a"}, trace)
}

func TestManager_RunUntilCancelled(t *testing.T) {
	r := &recorder{name: "r"}
	m := NewManager(time.Millisecond, log.New(io.Discard))
	m.Add(r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return r.steps.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
