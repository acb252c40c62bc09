package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAtExit(t *testing.T) {
	var calls []int
	AtExit(func() { calls = append(calls, 1) })
	AtExit(func() { calls = append(calls, 2) })
	RunAtExit()
	assert.Equal(t, []int{2, 1}, calls)
	RunAtExit()
	assert.Equal(t, []int{2, 1}, calls, "handlers should only run once")
}
