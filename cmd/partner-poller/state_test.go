// ABOUTME: Tests for the runtime state table renderer
// ABOUTME: Colors are disabled so output can be compared as plain text

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/partner-poller/internal/runtimestate"
)

func TestPrintState(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	st := runtimestate.NewAgentState()
	st.API.Status = runtimestate.ConnOK
	st.DB.Status = runtimestate.ConnError
	st.Tick.LastResult = "ok"
	st.Tick.DurationMs = 42
	st.Progress.Iterations = 3
	st.Progress.LastPage = 2
	st.Progress.TotalPages = 9
	st.LastErrorMessage = "db down"

	snap := runtimestate.Snapshot{
		SchemaVersion: runtimestate.SchemaVersion,
		UpdatedAtUTC:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Agents: map[string]runtimestate.AgentState{
			"zeta":  runtimestate.NewAgentState(),
			"alpha": st,
		},
	}

	var buf bytes.Buffer
	printState(&buf, "state.json", snap)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	assert.Contains(t, lines[0], "state.json (schema 1")
	assert.True(t, strings.HasPrefix(lines[2], "AGENT"))
	assert.True(t, strings.HasPrefix(lines[3], "alpha"))
	assert.Contains(t, lines[3], "ok")
	assert.Contains(t, lines[3], "error")
	assert.Contains(t, lines[3], "2/9")
	assert.True(t, strings.HasSuffix(lines[3], "db down"))
	assert.True(t, strings.HasPrefix(lines[4], "zeta"))
	assert.Contains(t, lines[4], "none")
}

func TestPrintState_Empty(t *testing.T) {
	var buf bytes.Buffer
	printState(&buf, "state.json", runtimestate.Snapshot{})
	assert.Contains(t, buf.String(), "no agents recorded")
}

func TestPad(t *testing.T) {
	assert.Equal(t, "ab   ", pad("ab", 5))
	assert.Equal(t, "abc ", pad("abcdef", 4))
	assert.Equal(t, "free", pad("free", 0))
}
