package persistence

import (
	"context"
	"time"

	"github.com/petrijr/wfstore/pkg/api"
)

// CreateEvent inserts ev with a fresh ID.
func (p *SQLProvider) CreateEvent(ctx context.Context, ev *api.Event) (string, error) {
	ev.ID = p.opts.newID()
	row, err := newEventRow(ev)
	if err != nil {
		return "", err
	}
	_, err = p.db.NamedExecContext(ctx, `
		INSERT INTO wf_events (event_id, event_name, event_key, event_data, event_time, is_processed)
		VALUES (:event_id, :event_name, :event_key, :event_data, :event_time, :is_processed)`, row)
	if err != nil {
		return "", duplicateID("event", ev.ID, err)
	}
	return ev.ID, nil
}

// GetEvent returns nil, nil when id is unknown.
func (p *SQLProvider) GetEvent(ctx context.Context, id string) (*api.Event, error) {
	var row eventRow
	err := p.db.GetContext(ctx, &row,
		p.rebind(`SELECT `+eventColumns+` FROM wf_events WHERE event_id = ?`), id)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toEvent()
}

// GetRunnableEvents returns IDs of unprocessed events due at asAt.
func (p *SQLProvider) GetRunnableEvents(ctx context.Context, asAt time.Time) ([]string, error) {
	var ids []string
	err := p.db.SelectContext(ctx, &ids, p.rebind(`
		SELECT event_id FROM wf_events
		WHERE is_processed = ? AND event_time <= ?
		ORDER BY event_time`),
		false, toStamp(asAt))
	return ids, err
}

// GetEvents returns IDs of events for the key published at or after asOf.
func (p *SQLProvider) GetEvents(ctx context.Context, eventName, eventKey string, asOf time.Time) ([]string, error) {
	var ids []string
	err := p.db.SelectContext(ctx, &ids, p.rebind(`
		SELECT event_id FROM wf_events
		WHERE event_name = ? AND event_key = ? AND event_time >= ?
		ORDER BY event_time`),
		eventName, eventKey, toStamp(asOf))
	return ids, err
}

func (p *SQLProvider) MarkEventProcessed(ctx context.Context, id string) error {
	return p.setEventProcessed(ctx, id, true)
}

func (p *SQLProvider) MarkEventUnprocessed(ctx context.Context, id string) error {
	return p.setEventProcessed(ctx, id, false)
}

func (p *SQLProvider) setEventProcessed(ctx context.Context, id string, processed bool) error {
	_, err := p.db.ExecContext(ctx,
		p.rebind(`UPDATE wf_events SET is_processed = ? WHERE event_id = ?`), processed, id)
	return err
}
