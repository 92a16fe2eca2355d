package repository

import (
	"context"
	"time"
)

// EnqueueOptions tune a single enqueue. The zero value means immediate
// delivery with no deduplication.
type EnqueueOptions struct {
	// Delay holds the job invisible until it elapses.
	Delay time.Duration
	// DedupKey suppresses the enqueue when the same key was seen within the
	// broker's dedup window.
	DedupKey string
}

// ClaimedJob is one leased job. Handle is opaque and must be passed back to
// Ack or Nack verbatim.
type ClaimedJob struct {
	Handle  string
	Payload []byte
}

// IJobQueue is an at-least-once broker. Claimed jobs invisible past their
// visibility timeout return to the ready state for redelivery.
type IJobQueue interface {
	Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) error
	// Claim leases the next ready job for the visibility window. Returns
	// (nil, nil) when the queue is empty.
	Claim(ctx context.Context, queue string, visibility time.Duration) (*ClaimedJob, error)
	Ack(ctx context.Context, queue string, handle string) error
	// Nack returns the job to the queue after the given delay.
	Nack(ctx context.Context, queue string, handle string, delay time.Duration) error
}
