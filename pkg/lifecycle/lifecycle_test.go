package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsTasksInOrder(t *testing.T) {
	r := NewRegistry()

	var ran []string
	r.Register("transport", 20, func() error { ran = append(ran, "transport"); return nil })
	r.Register("scheduler", 10, func() error { ran = append(ran, "scheduler"); return nil })
	r.Register("store", 30, func() error { ran = append(ran, "store"); return nil })

	r.Shutdown()

	assert.Equal(t, []string{"scheduler", "transport", "store"}, ran)
}

func TestShutdownContinuesPastFailures(t *testing.T) {
	r := NewRegistry()

	var ran []string
	r.Register("first", 1, func() error { ran = append(ran, "first"); return assert.AnError })
	r.Register("second", 2, func() error { ran = append(ran, "second"); return nil })

	r.Shutdown()

	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestShutdownIsIdempotent(t *testing.T) {
	r := NewRegistry()

	count := 0
	r.Register("once", 1, func() error { count++; return nil })

	r.Shutdown()
	r.Shutdown()

	assert.Equal(t, 1, count)
}

func TestLateRegistrationIsIneffective(t *testing.T) {
	r := NewRegistry()
	r.Shutdown()

	ran := false
	r.Register("late", 1, func() error { ran = true; return nil })
	r.Shutdown()

	assert.False(t, ran)
}

func TestEqualOrdersKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()

	var ran []string
	r.Register("a", 5, func() error { ran = append(ran, "a"); return nil })
	r.Register("b", 5, func() error { ran = append(ran, "b"); return nil })

	r.Shutdown()

	assert.Equal(t, []string{"a", "b"}, ran)
}
