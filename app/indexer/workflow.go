package indexer

import (
	"time"

	"github.com/composable-labs/pablox/app/indexer/types"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	HeadScanWorkflowName = "HeadScanWorkflow"

	defaultMaxActivities = 1000
)

// registry is the part of a Temporal worker (or test environment) the indexer registers with.
type registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}

// Register adds the head scan workflow and its activities to r.
func (a *App) Register(r registry) {
	r.RegisterWorkflowWithOptions(a.HeadScanWorkflow, workflow.RegisterOptions{Name: HeadScanWorkflowName})
	r.RegisterActivity(a.PlanHeights)
	r.RegisterActivity(a.IndexHeight)
}

// HeadScanWorkflow follows the chain head. Each pass plans the pending heights and indexes them
// one by one, strictly in order since the book is sequential. When caught up it sleeps for
// PollInterval. After MaxActivities activities it continues as new to keep the history short.
func (a *App) HeadScanWorkflow(ctx workflow.Context, in types.HeadScanInput) error {
	if in.PollInterval <= 0 {
		in.PollInterval = 6 * time.Second
	}
	if in.MaxActivities <= 0 {
		in.MaxActivities = defaultMaxActivities
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    250 * time.Millisecond,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    0, // a height is retried until it is indexed
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	executed := 0
	for executed < in.MaxActivities {
		var plan types.HeightPlan
		if err := workflow.ExecuteActivity(ctx, a.PlanHeights).Get(ctx, &plan); err != nil {
			return err
		}
		executed++

		for height := plan.From; height <= plan.Head && executed < in.MaxActivities; height++ {
			var res types.HeightResult
			if err := workflow.ExecuteActivity(ctx, a.IndexHeight, height).Get(ctx, &res); err != nil {
				return err
			}
			executed++
		}

		if plan.From > plan.Head {
			if err := workflow.Sleep(ctx, in.PollInterval); err != nil {
				return err
			}
		}
	}

	logger.Info("Head scan continuing as new", "activities", executed)
	return workflow.NewContinueAsNewError(ctx, HeadScanWorkflowName, in)
}
