package models

import "time"

// TaskKind selects what a queued Task does.
type TaskKind string

const (
	TaskEvaluate TaskKind = "evaluate"
	TaskCheckIn  TaskKind = "checkin"
	TaskTrigger  TaskKind = "trigger"
)

// Task is a unit of work for the service worker pool.
type Task struct {
	RequestID string
	Kind      TaskKind
	CheckerID string
	Level     Level
	Timestamp time.Time
}
