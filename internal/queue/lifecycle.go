package queue

import (
	"time"

	"github.com/dagucloud/scriptd/internal/eventbus"
)

// Kind is the tagged-variant discriminator for TaskLifecycleEvent (spec
// §3, §9: expressed as a sum type rather than the original's
// string-typed union).
type Kind string

const (
	Queued    Kind = "queued"
	Started   Kind = "started"
	Completed Kind = "completed"
	Error     Kind = "error"
)

// LifecycleEvent is published on eventbus.TopicTask for every queue
// transition (spec §3 TaskLifecycleEvent, §4.3, §8).
type LifecycleEvent struct {
	Kind      Kind   `json:"kind"`
	TaskID    string `json:"taskId"`
	Name      string `json:"name"`
	ElapsedMs int64  `json:"elapsedMs,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (q *Queue) publish(kind Kind, item *QueueItem, name string, elapsed time.Duration, errText string) {
	q.bus.Publish(eventbus.TopicTask, LifecycleEvent{
		Kind:      kind,
		TaskID:    item.TaskID,
		Name:      name,
		ElapsedMs: elapsed.Milliseconds(),
		Error:     errText,
	})
}
