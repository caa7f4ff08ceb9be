// ABOUTME: Human-readable recurrence text for interval and daily triggers
// ABOUTME: Daily triggers recover HH:mm from their cron expression

package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var dailyExpr = regexp.MustCompile(`^(\d{1,2}) (\d{1,2}) \* \* \*$`)

func describeInterval(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("every %d h", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("every %d min", d/time.Minute)
	default:
		return fmt.Sprintf("every %d s", d/time.Second)
	}
}

// describeExpr renders "every HH:mm" for a daily cron expression and returns
// anything it does not recognize unchanged.
func describeExpr(expr string) string {
	m := dailyExpr.FindStringSubmatch(expr)
	if m == nil {
		return expr
	}
	minute, _ := strconv.Atoi(m[1])
	hour, _ := strconv.Atoi(m[2])
	if minute > 59 || hour > 23 {
		return expr
	}
	return fmt.Sprintf("every %02d:%02d", hour, minute)
}

func (t trigger) describe() string {
	if t.interval > 0 {
		return describeInterval(t.interval)
	}
	return describeExpr(t.expr)
}
