package persistence

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/wfstore/pkg/api"
)

func TestSweepCommands_ReportsEveryOutcome(t *testing.T) {
	var logs bytes.Buffer
	metrics := &api.BasicMetrics{}
	o := buildOptions([]Option{
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithObserver(metrics),
	})

	due := []dueCommand[string]{
		{key: "ok", cmd: &api.ScheduledCommand{CommandName: api.CommandProcessWorkflow, Data: "ok"}},
		{key: "action", cmd: &api.ScheduledCommand{CommandName: api.CommandProcessWorkflow, Data: "action"}},
		{key: "remove", cmd: &api.ScheduledCommand{CommandName: api.CommandProcessEvent, Data: "remove"}},
	}

	var removed []string
	err := sweepCommands(context.Background(), o, due,
		func(ctx context.Context, cmd *api.ScheduledCommand) error {
			if cmd.Data == "action" {
				return errors.New("action failed")
			}
			return nil
		},
		func(ctx context.Context, key string) error {
			if key == "remove" {
				return errors.New("delete failed")
			}
			removed = append(removed, key)
			return nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, removed)

	snap := metrics.Snapshot()
	require.Equal(t, int64(1), snap.CommandsProcessed)
	require.Equal(t, int64(2), snap.CommandsRetained)

	out := logs.String()
	require.Contains(t, out, "outcome=action_failed")
	require.Contains(t, out, "outcome=remove_failed")
	require.NotContains(t, out, "outcome=executed")
}

func TestSweepCommands_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	due := []dueCommand[int]{{key: 1, cmd: &api.ScheduledCommand{Data: "x"}}}
	err := sweepCommands(ctx, defaultOptions(), due,
		func(ctx context.Context, cmd *api.ScheduledCommand) error {
			called = true
			return nil
		},
		func(ctx context.Context, key int) error { return nil },
	)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestReportScheduleResult(t *testing.T) {
	metrics := &api.BasicMetrics{}
	o := buildOptions([]Option{WithObserver(metrics)})
	cmd := &api.ScheduledCommand{CommandName: api.CommandProcessEvent, Data: "ev-1", ExecuteTime: time.Now()}

	reportScheduleResult(context.Background(), o, cmd, nil)
	reportScheduleResult(context.Background(), o, cmd, errors.New("duplicate"))

	snap := metrics.Snapshot()
	require.Equal(t, int64(1), snap.CommandsScheduled)
	require.Equal(t, int64(1), snap.CommandsRejected)
}

func TestCommandOutcomeString(t *testing.T) {
	require.Equal(t, "executed", commandExecuted.String())
	require.Equal(t, "action_failed", commandActionFailed.String())
	require.Equal(t, "remove_failed", commandRemoveFailed.String())
	require.Equal(t, "unknown", commandOutcome(42).String())
}

func TestOptions_NilValuesKeepDefaults(t *testing.T) {
	o := buildOptions([]Option{WithLogger(nil), WithObserver(nil), WithIDGenerator(nil), WithClock(nil)})
	require.NotNil(t, o.logger)
	require.IsType(t, api.NoopObserver{}, o.observer)
	require.NotEmpty(t, o.newID())
	require.False(t, o.now().IsZero())
}
