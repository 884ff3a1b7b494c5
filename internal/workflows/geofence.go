package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Task queue and workflow id formats shared by the worker and the scheduler.
const (
	DefaultTaskQueue        = "geotrack-timers"
	TimerWorkflowIDFormat   = "geofence-timer-%d-%d"
	RegenWorkflowIDFormat   = "geofence-regen-%d"
	fireActivityName        = "FireGeofenceTimer"
	regenerateActivityName  = "RegenerateGeofence"
	defaultActivityTimeout  = 30 * time.Second
	defaultActivityAttempts = 5
)

// GeofenceTimerInput starts a crossing timer for one trip and geofence.
type GeofenceTimerInput struct {
	TripID     int64
	GeofenceID int64
	Delay      time.Duration
}

// GeofenceRegenerationInput drives the periodic replacement of a geofence.
type GeofenceRegenerationInput struct {
	GeofenceID int64
	Every      time.Duration
}

func activityContext(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: defaultActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    defaultActivityAttempts,
		},
	})
}

// GeofenceTimerWorkflow waits out the geofence allowance and then asks the
// worker to evaluate the trip. Cancelling the workflow during the wait is
// how a timer is cancelled.
func GeofenceTimerWorkflow(ctx workflow.Context, in GeofenceTimerInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("geofence timer armed", "trip_id", in.TripID, "geofence_id", in.GeofenceID, "delay", in.Delay)

	if err := workflow.Sleep(ctx, in.Delay); err != nil {
		return err
	}

	err := workflow.ExecuteActivity(activityContext(ctx), fireActivityName, in.TripID, in.GeofenceID).Get(ctx, nil)
	if err != nil {
		logger.Error("geofence timer fire failed", "error", err)
		return err
	}
	return nil
}

// GeofenceRegenerationWorkflow replaces the geofence every in.Every and
// continues as new with the replacement. The cycle ends when the activity
// reports no replacement.
func GeofenceRegenerationWorkflow(ctx workflow.Context, in GeofenceRegenerationInput) error {
	logger := workflow.GetLogger(ctx)

	if err := workflow.Sleep(ctx, in.Every); err != nil {
		return err
	}

	var nextID int64
	err := workflow.ExecuteActivity(activityContext(ctx), regenerateActivityName, in.GeofenceID).Get(ctx, &nextID)
	if err != nil {
		return err
	}
	if nextID == 0 {
		logger.Info("geofence regeneration stopped", "geofence_id", in.GeofenceID)
		return nil
	}

	logger.Info("geofence regenerated", "old_id", in.GeofenceID, "new_id", nextID)
	return workflow.NewContinueAsNewError(ctx, GeofenceRegenerationWorkflow, GeofenceRegenerationInput{
		GeofenceID: nextID,
		Every:      in.Every,
	})
}
