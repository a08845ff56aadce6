package models

import "time"

// JobStatus is the lifecycle state of an asynchronous provision job.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusRunning     JobStatus = "running"
	JobStatusSucceeded   JobStatus = "succeeded"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
	JobStatusInterrupted JobStatus = "interrupted"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled, JobStatusInterrupted:
		return true
	}
	return false
}

// JobKind names the provisioning CLI operation a job runs.
type JobKind string

const (
	JobKindCreate JobKind = "create"
	JobKindDelete JobKind = "delete"
)

// ProvisionJob tracks one asynchronous run of the provisioning CLI.
type ProvisionJob struct {
	// ID is the job UUID. It also names the log file.
	ID string `json:"id"`

	Kind JobKind `json:"kind"`

	// ProvisionID is the backend provision ID, known once the CLI prints it.
	ProvisionID string `json:"provision_id,omitempty"`

	// Command is the CLI invocation without credentials.
	Command string `json:"command"`

	Status JobStatus `json:"status"`

	PID      int  `json:"pid,omitempty"`
	ExitCode *int `json:"exit_code,omitempty"`

	LogPath string `json:"-"`
	Error   string `json:"error,omitempty"`

	// Owner is the user name that started the job.
	Owner string `json:"owner"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ProvisionLog is the log view returned for a provision or job.
type ProvisionLog struct {
	UUID        string   `json:"uuid"`
	ProvisionID string   `json:"provision_id,omitempty"`
	Lines       []string `json:"lines"`
	Running     bool     `json:"running"`

	// Owner is the user of the newest job writing to this log. Empty when
	// no job record survives.
	Owner string `json:"-"`
}

// ProvisionHostAction is the body-less host operation selected by path.
type ProvisionHostAction string

const (
	HostActionPoweroff  ProvisionHostAction = "poweroff"
	HostActionReboot    ProvisionHostAction = "reboot"
	HostActionResume    ProvisionHostAction = "resume"
	HostActionDelete    ProvisionHostAction = "delete"
	HostActionConfigure ProvisionHostAction = "configure"
)

// ValidHostAction reports whether a is a supported host operation.
func ValidHostAction(a string) bool {
	switch ProvisionHostAction(a) {
	case HostActionPoweroff, HostActionReboot, HostActionResume, HostActionDelete, HostActionConfigure:
		return true
	}
	return false
}
