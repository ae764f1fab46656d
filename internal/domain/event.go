package domain

import "time"

type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventRecording EventKind = "recording"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
	// EventQuota is engine-level and carries no job id.
	EventQuota EventKind = "quota"
)

func (k EventKind) IsTerminal() bool {
	return k == EventCompleted || k == EventFailed || k == EventCancelled
}

type Event struct {
	JobID    string    `json:"job_id,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Kind     EventKind `json:"kind"`
	State    JobState  `json:"state,omitempty"`
	Progress float64   `json:"progress"`
	Artifact *Artifact `json:"artifact,omitempty"`
	Error    string    `json:"error,omitempty"`
	Usage    *Usage    `json:"usage,omitempty"`
	Evicted  []string  `json:"evicted,omitempty"`
	At       time.Time `json:"at"`
}

// JobEvent builds an event describing the job's current state.
func JobEvent(kind EventKind, j *Job, at time.Time) Event {
	ev := Event{
		JobID:    j.ID,
		Attempt:  j.Attempts,
		Kind:     kind,
		State:    j.State,
		Progress: j.Progress,
		Error:    j.Error,
		At:       at,
	}
	if j.Artifact != nil {
		a := *j.Artifact
		ev.Artifact = &a
	}
	return ev
}
