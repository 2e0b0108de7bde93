// Package image unifies the synchronous and queue-based image providers
// behind one submit/poll contract.
package image

import (
	"context"
	"strings"
)

// Kind tells how a provider delivers results.
type Kind string

const (
	KindSync  Kind = "sync"
	KindQueue Kind = "queue"
)

// Input is one resolved media input. URL is reachable by the provider; Data
// is kept for providers that take inline bytes.
type Input struct {
	URL  string
	Data []byte
	MIME string
}

// Job is the provider-specific work derived from a generation request.
// JobID is only ever set for queue jobs, once submitted.
type Job struct {
	Model           string
	Kind            Kind
	Prompt          string
	Inputs          []Input
	AspectRatio     string
	Width           int
	Height          int
	Strength        float64
	SafetyTolerance int
	JobID           string
	UserID          string
}

// State is the lifecycle position of a submitted job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status is the answer to one poll.
type Status struct {
	State      State
	ResultURL  string
	Data       []byte
	MIME       string
	HTTPStatus int
	Message    string
}

// Done reports whether the job reached a terminal state.
func (s Status) Done() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// HasAsset reports whether the status already carries the final image.
func (s Status) HasAsset() bool {
	return strings.TrimSpace(s.ResultURL) != "" || len(s.Data) > 0
}

// Handle is a submitted job.
type Handle interface {
	// JobID is empty for synchronous providers.
	JobID() string
	Poll(ctx context.Context) (Status, error)
}

// Provider executes jobs for the models it owns.
type Provider interface {
	Name() string
	Submit(ctx context.Context, job Job) (Handle, error)
}

// Result is the normalized outcome of a successful attempt.
type Result struct {
	URL      string
	Data     []byte
	MIME     string
	Provider string
	Model    string
	JobID    string
}

type resolvedHandle struct {
	status Status
}

func (h resolvedHandle) JobID() string { return "" }

func (h resolvedHandle) Poll(ctx context.Context) (Status, error) { return h.status, nil }

// Resolved wraps an inline synchronous result as an already completed handle.
func Resolved(url string, data []byte, mime string) Handle {
	return resolvedHandle{status: Status{State: StateCompleted, ResultURL: url, Data: data, MIME: mime}}
}
