// Package queue carries extraction jobs from the ingestion API to the
// background worker.
package queue

import "context"

// Job identifies one upload awaiting extraction. Branch and document kind are
// carried alongside the id so the worker can route without a ledger read.
type Job struct {
	UploadID     string `json:"upload_id"`
	Branch       string `json:"branch"`
	DocumentKind string `json:"document_kind"`
}

// Publisher enqueues jobs. Publish returns only after the broker has accepted
// the message, so a nil error means the job is durable.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// Handler processes one delivered job. A non-nil error requests redelivery.
type Handler func(ctx context.Context, job Job) error

// Consumer delivers jobs to a handler until the context is cancelled.
type Consumer interface {
	Receive(ctx context.Context, handler Handler) error
}
