// ABOUTME: Renders a runtime state document as a colored terminal table
// ABOUTME: One row per agent: connection health, last tick, progress and last error

package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/2389/partner-poller/internal/runtimestate"
)

type column struct {
	title string
	width int
}

var stateColumns = []column{
	{"AGENT", 16},
	{"API", 9},
	{"DB", 9},
	{"RESULT", 9},
	{"FINISHED", 20},
	{"MS", 7},
	{"ITER", 6},
	{"PAGE", 9},
	{"LAST ERROR", 0},
}

func printState(w io.Writer, path string, snap runtimestate.Snapshot) {
	gray := color.New(color.FgHiBlack)
	bold := color.New(color.Bold)

	gray.Fprintf(w, "%s (schema %d, updated %s)\n\n", path, snap.SchemaVersion, formatTime(snap.UpdatedAtUTC))
	if len(snap.Agents) == 0 {
		fmt.Fprintln(w, "no agents recorded")
		return
	}

	for _, c := range stateColumns {
		bold.Fprint(w, pad(c.title, c.width))
	}
	fmt.Fprintln(w)

	ids := make([]string, 0, len(snap.Agents))
	for id := range snap.Agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		st := snap.Agents[id]
		page := "-"
		if st.Progress.LastPage > 0 {
			page = fmt.Sprintf("%d/%d", st.Progress.LastPage, st.Progress.TotalPages)
		}
		cells := []string{
			pad(id, stateColumns[0].width),
			connCell(st.API.Status, stateColumns[1].width),
			connCell(st.DB.Status, stateColumns[2].width),
			resultCell(st.Tick.LastResult, stateColumns[3].width),
			pad(formatTime(st.Tick.LastFinishedAt), stateColumns[4].width),
			pad(strconv.FormatInt(st.Tick.DurationMs, 10), stateColumns[5].width),
			pad(strconv.FormatInt(st.Progress.Iterations, 10), stateColumns[6].width),
			pad(page, stateColumns[7].width),
			color.RedString(st.LastErrorMessage),
		}
		for _, c := range cells {
			fmt.Fprint(w, c)
		}
		fmt.Fprintln(w)
	}
}

// pad left-aligns s in width columns. Colors are applied after padding so
// escape codes do not skew alignment.
func pad(s string, width int) string {
	if width == 0 {
		return s
	}
	if len(s) >= width {
		return s[:width-1] + " "
	}
	return fmt.Sprintf("%-*s", width, s)
}

func connCell(s runtimestate.ConnStatus, width int) string {
	text := pad(s.String(), width)
	switch s {
	case runtimestate.ConnOK:
		return color.GreenString(text)
	case runtimestate.ConnError:
		return color.RedString(text)
	default:
		return color.HiBlackString(text)
	}
}

func resultCell(result string, width int) string {
	text := pad(result, width)
	switch result {
	case "ok", "done":
		return color.GreenString(text)
	case "error":
		return color.RedString(text)
	case "canceled", "skipped":
		return color.YellowString(text)
	default:
		return text
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
