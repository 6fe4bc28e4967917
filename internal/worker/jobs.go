package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Processor is the slice of the pipeline the dispatcher enqueues work
// against.
type Processor interface {
	ProcessClaim(ctx context.Context, claimID uuid.UUID) error
	Adjudicate(ctx context.Context, claimID uuid.UUID) error
	ProcessPolicyDocument(ctx context.Context, patientID, documentID uuid.UUID) error
}

// Dispatcher turns pipeline operations into fire-and-forget pool jobs.
// It is the seam between the synchronous API layer and the background
// claim runs.
type Dispatcher struct {
	pool     *Pool
	pipeline Processor
}

// NewDispatcher creates a dispatcher over the given pool and pipeline.
func NewDispatcher(pool *Pool, pipeline Processor) *Dispatcher {
	return &Dispatcher{pool: pool, pipeline: pipeline}
}

// EnqueueClaimCreation schedules the intake pipeline for a claim.
func (d *Dispatcher) EnqueueClaimCreation(claimID uuid.UUID) bool {
	return d.pool.Submit(JobFunc{
		Name: fmt.Sprintf("claim_creation:%s", claimID),
		Fn: func(ctx context.Context) error {
			return d.pipeline.ProcessClaim(ctx, claimID)
		},
	})
}

// EnqueueAdjudication schedules the payer simulation for a submitted
// claim.
func (d *Dispatcher) EnqueueAdjudication(claimID uuid.UUID) bool {
	return d.pool.Submit(JobFunc{
		Name: fmt.Sprintf("adjudication:%s", claimID),
		Fn: func(ctx context.Context) error {
			return d.pipeline.Adjudicate(ctx, claimID)
		},
	})
}

// EnqueuePolicyProcessing schedules benefit extraction for a policy
// document.
func (d *Dispatcher) EnqueuePolicyProcessing(patientID, documentID uuid.UUID) bool {
	return d.pool.Submit(JobFunc{
		Name: fmt.Sprintf("policy_processing:%s", documentID),
		Fn: func(ctx context.Context) error {
			return d.pipeline.ProcessPolicyDocument(ctx, patientID, documentID)
		},
	})
}
