// Package task drives the gateway components from a single loop. Each
// component exposes a step function that must return without blocking;
// the Manager calls every step once per tick.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Task is a component polled by the Manager.
type Task interface {
	Name() string
	// Setup runs once before the first Step.
	Setup(ctx context.Context) error
	// Step does a bounded amount of work and must not block.
	Step(ctx context.Context) error
}

// Manager runs tasks in registration order.
type Manager struct {
	tasks []Task
	tick  time.Duration
	log   *log.Logger
}

// NewManager creates a manager stepping every tick.
func NewManager(tick time.Duration, logger *log.Logger) *Manager {
	return &Manager{tick: tick, log: logger}
}

func (m *Manager) Add(t Task) {
	m.tasks = append(m.tasks, t)
}

// Setup calls Setup on every task and stops at the first failure.
func (m *Manager) Setup(ctx context.Context) error {
	for _, t := range m.tasks {
		if err := t.Setup(ctx); err != nil {
			return fmt.Errorf("%s setup: %w", t.Name(), err)
		}
		m.log.Debug("Task ready", "task", t.Name())
	}
	return nil
}

// StepAll steps each task once. A failing task is logged and the
// remaining tasks still run.
func (m *Manager) StepAll(ctx context.Context) {
	for _, t := range m.tasks {
		if err := t.Step(ctx); err != nil {
			m.log.Warn("Task step failed", "task", t.Name(), "err", err)
		}
	}
}

// Run steps all tasks every tick until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.StepAll(ctx)
		}
	}
}
