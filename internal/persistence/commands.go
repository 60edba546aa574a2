package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/wfstore/pkg/api"
)

// commandOutcome is the result of handling one due command during a sweep.
// Only commandExecuted removes the command from the store.
type commandOutcome int

const (
	commandExecuted commandOutcome = iota
	commandActionFailed
	commandRemoveFailed
)

func (o commandOutcome) String() string {
	switch o {
	case commandExecuted:
		return "executed"
	case commandActionFailed:
		return "action_failed"
	case commandRemoveFailed:
		return "remove_failed"
	default:
		return "unknown"
	}
}

// dueCommand pairs a loaded command with the store key used to delete it.
type dueCommand[K any] struct {
	key K
	cmd *api.ScheduledCommand
}

// sweepCommands drains due in order. A failing action or delete is logged and
// reported, then the sweep moves on. Only cancellation stops it early.
func sweepCommands[K any](
	ctx context.Context,
	o options,
	due []dueCommand[K],
	action api.CommandAction,
	remove func(ctx context.Context, key K) error,
) error {
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		outcome, err := runCommand(ctx, d, action, remove)
		o.observer.OnCommandProcessed(ctx, d.cmd, err, time.Since(start))

		if outcome != commandExecuted {
			o.logger.WarnContext(ctx, "scheduled command kept for next sweep",
				slog.String("command", d.cmd.CommandName),
				slog.String("data", d.cmd.Data),
				slog.String("outcome", outcome.String()),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func runCommand[K any](
	ctx context.Context,
	d dueCommand[K],
	action api.CommandAction,
	remove func(ctx context.Context, key K) error,
) (commandOutcome, error) {
	if err := action(ctx, d.cmd); err != nil {
		return commandActionFailed, err
	}
	if err := remove(ctx, d.key); err != nil {
		return commandRemoveFailed, err
	}
	return commandExecuted, nil
}

// reportScheduleResult logs and observes the outcome of ScheduleCommand,
// which never surfaces errors to its caller.
func reportScheduleResult(ctx context.Context, o options, cmd *api.ScheduledCommand, err error) {
	if err != nil {
		o.logger.WarnContext(ctx, "schedule command failed",
			slog.String("command", cmd.CommandName),
			slog.String("data", cmd.Data),
			slog.Any("error", err),
		)
		o.observer.OnCommandScheduleFailed(ctx, cmd, err)
		return
	}
	o.observer.OnCommandScheduled(ctx, cmd)
}
