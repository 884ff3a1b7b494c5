// Package temporaladapter schedules durable geofence timers on Temporal.
package temporaladapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/geotrack/internal/workflows"
)

// Scheduler implements ports.TimerScheduler by starting one workflow per
// timer. Workflow ids are derived from the timer key so a schedule or
// cancel can be issued from any instance.
type Scheduler struct {
	client    client.Client
	taskQueue string
}

func NewScheduler(c client.Client, taskQueue string) *Scheduler {
	if taskQueue == "" {
		taskQueue = workflows.DefaultTaskQueue
	}
	return &Scheduler{client: c, taskQueue: taskQueue}
}

// TimerWorkflowID names the workflow for a (trip, geofence) timer.
func TimerWorkflowID(tripID, geofenceID int64) string {
	return fmt.Sprintf(workflows.TimerWorkflowIDFormat, tripID, geofenceID)
}

// RegenWorkflowID names the regeneration workflow started for a geofence.
func RegenWorkflowID(geofenceID int64) string {
	return fmt.Sprintf(workflows.RegenWorkflowIDFormat, geofenceID)
}

// ScheduleTimer replaces any timer workflow still running for the same key.
func (s *Scheduler) ScheduleTimer(ctx context.Context, tripID, geofenceID int64, delay time.Duration) error {
	id := TimerWorkflowID(tripID, geofenceID)
	in := workflows.GeofenceTimerInput{TripID: tripID, GeofenceID: geofenceID, Delay: delay}
	return s.start(ctx, id, workflows.GeofenceTimerWorkflow, in)
}

func (s *Scheduler) CancelTimer(ctx context.Context, tripID, geofenceID int64) error {
	return s.cancel(ctx, TimerWorkflowID(tripID, geofenceID))
}

func (s *Scheduler) ScheduleRegeneration(ctx context.Context, geofenceID int64, every time.Duration) error {
	in := workflows.GeofenceRegenerationInput{GeofenceID: geofenceID, Every: every}
	return s.start(ctx, RegenWorkflowID(geofenceID), workflows.GeofenceRegenerationWorkflow, in)
}

func (s *Scheduler) CancelRegeneration(ctx context.Context, geofenceID int64) error {
	return s.cancel(ctx, RegenWorkflowID(geofenceID))
}

func (s *Scheduler) start(ctx context.Context, id string, wf interface{}, in interface{}) error {
	opts := client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	_, err := s.client.ExecuteWorkflow(ctx, opts, wf, in)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		if terr := s.client.TerminateWorkflow(ctx, id, "", "rescheduled"); terr != nil && !isNotFound(terr) {
			return fmt.Errorf("terminate %s: %w", id, terr)
		}
		_, err = s.client.ExecuteWorkflow(ctx, opts, wf, in)
	}
	if err != nil {
		return fmt.Errorf("start workflow %s: %w", id, err)
	}
	return nil
}

func (s *Scheduler) cancel(ctx context.Context, id string) error {
	err := s.client.CancelWorkflow(ctx, id, "")
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("cancel workflow %s: %w", id, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *serviceerror.NotFound
	return errors.As(err, &nf)
}
