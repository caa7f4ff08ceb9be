// Package scheduler turns per-agent schedules into cron triggers that call
// the agent manager's scheduled entry point.
//
// A Spec holds exactly one effective recurrence: every N seconds, minutes or
// hours, or daily at HH:mm local time, checked in that order. With nothing
// set the recurrence is every 10 minutes.
//
// Interval triggers run once as soon as the scheduler starts (or on
// registration if it is already running). Daily triggers only fire at their
// wall-clock time, so restarting the process does not cause an extra run.
// Trigger state is not persisted; it is rebuilt from configuration.
package scheduler
