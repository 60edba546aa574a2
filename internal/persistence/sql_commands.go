package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/wfstore/pkg/api"
)

// SupportsScheduledCommands reports true: commands are kept in
// wf_scheduled_commands.
func (p *SQLProvider) SupportsScheduledCommands() bool {
	return true
}

// ScheduleCommand stores cmd. A duplicate (command name, data) pair violates
// the table's unique key; like every other failure it is only logged and
// observed.
func (p *SQLProvider) ScheduleCommand(ctx context.Context, cmd *api.ScheduledCommand) {
	_, err := p.db.ExecContext(ctx, p.rebind(`
		INSERT INTO wf_scheduled_commands (command_name, data, execute_time)
		VALUES (?, ?, ?)`),
		cmd.CommandName, cmd.Data, toStamp(cmd.ExecuteTime))
	reportScheduleResult(ctx, p.opts, cmd, err)
}

// ProcessCommands runs action for each command due strictly before asOf and
// deletes it once the action succeeded.
func (p *SQLProvider) ProcessCommands(ctx context.Context, asOf time.Time, action api.CommandAction) error {
	var rows []commandRow
	err := p.db.SelectContext(ctx, &rows, p.rebind(`
		SELECT persistence_id, command_name, data, execute_time
		FROM wf_scheduled_commands
		WHERE execute_time < ?
		ORDER BY execute_time, persistence_id`),
		toStamp(asOf))
	if err != nil {
		return fmt.Errorf("load due commands: %w", err)
	}

	var ts stampReader
	due := make([]dueCommand[int64], len(rows))
	for i, r := range rows {
		due[i] = dueCommand[int64]{
			key: r.PersistenceID,
			cmd: &api.ScheduledCommand{
				CommandName: r.CommandName,
				Data:        r.Data,
				ExecuteTime: ts.time(r.ExecuteTime),
			},
		}
	}
	if ts.err != nil {
		return fmt.Errorf("load due commands: %w", ts.err)
	}

	return sweepCommands(ctx, p.opts, due, action, func(ctx context.Context, id int64) error {
		_, err := p.db.ExecContext(ctx,
			p.rebind(`DELETE FROM wf_scheduled_commands WHERE persistence_id = ?`), id)
		return err
	})
}
