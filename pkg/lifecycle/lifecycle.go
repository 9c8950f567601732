// Package lifecycle runs registered shutdown tasks in order when the
// process stops.
package lifecycle

import (
	"sort"
	"sync"

	"github.com/dataferry/ferry/pkg/log"
)

// Task is one shutdown step. Lower orders run first.
type Task struct {
	Name  string
	Order int
	Run   func() error
}

// Registry collects shutdown tasks and executes them once. A failing
// task is logged and does not stop the remaining tasks. Registrations
// arriving after Shutdown has started are accepted but never run.
type Registry struct {
	mu       sync.Mutex
	tasks    []Task
	shutdown bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a shutdown task
func (r *Registry) Register(name string, order int, run func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		logger := log.WithComponent("lifecycle")
		logger.Warn().Str("task", name).Msg("registration after shutdown started, task will not run")
	}
	r.tasks = append(r.tasks, Task{Name: name, Order: order, Run: run})
}

// Shutdown runs every task registered before the call, in ascending
// order. It is idempotent; later calls are no-ops.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	r.shutdown = true
	tasks := make([]Task, len(r.tasks))
	copy(tasks, r.tasks)
	r.mu.Unlock()

	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })

	logger := log.WithComponent("lifecycle")
	for _, t := range tasks {
		logger.Info().Str("task", t.Name).Msg("running shutdown task")
		if err := t.Run(); err != nil {
			logger.Error().Err(err).Str("task", t.Name).Msg("shutdown task failed")
		}
	}
	logger.Info().Int("tasks", len(tasks)).Msg("shutdown complete")
}
