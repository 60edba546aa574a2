package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/petrijr/wfstore/pkg/api"
)

const insertSubscriptionSQL = `
	INSERT INTO wf_subscriptions (subscription_id, workflow_id, step_id, execution_pointer_id, event_name,
		event_key, subscribe_as_of, subscription_data, external_token, external_worker_id, external_token_expiry)
	VALUES (:subscription_id, :workflow_id, :step_id, :execution_pointer_id, :event_name,
		:event_key, :subscribe_as_of, :subscription_data, :external_token, :external_worker_id, :external_token_expiry)`

// CreateEventSubscription inserts sub with a fresh ID. sub.ID is set only
// once the row is stored.
func (p *SQLProvider) CreateEventSubscription(ctx context.Context, sub *api.EventSubscription) (string, error) {
	id := p.opts.newID()
	if err := p.insertSubscription(ctx, p.db, id, sub); err != nil {
		return "", err
	}
	sub.ID = id
	return id, nil
}

func (p *SQLProvider) insertSubscription(ctx context.Context, e sqlx.ExtContext, id string, sub *api.EventSubscription) error {
	row, err := newSubscriptionRow(sub)
	if err != nil {
		return err
	}
	row.SubscriptionID = id
	_, err = sqlx.NamedExecContext(ctx, e, insertSubscriptionSQL, row)
	return duplicateID("event subscription", id, err)
}

// GetSubscriptions returns subscriptions for the key that started at or
// before asOf, in creation order.
func (p *SQLProvider) GetSubscriptions(ctx context.Context, eventName, eventKey string, asOf time.Time) ([]*api.EventSubscription, error) {
	var rows []subscriptionRow
	err := p.db.SelectContext(ctx, &rows, p.rebind(`
		SELECT `+subscriptionColumns+` FROM wf_subscriptions
		WHERE event_name = ? AND event_key = ? AND subscribe_as_of <= ?
		ORDER BY persistence_id`),
		eventName, eventKey, toStamp(asOf))
	if err != nil {
		return nil, err
	}

	subs := make([]*api.EventSubscription, 0, len(rows))
	for _, r := range rows {
		sub, err := r.toSubscription()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// TerminateSubscription deletes the subscription if it exists.
func (p *SQLProvider) TerminateSubscription(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, p.rebind(`DELETE FROM wf_subscriptions WHERE subscription_id = ?`), id)
	return err
}

// GetSubscription returns nil, nil when id is unknown.
func (p *SQLProvider) GetSubscription(ctx context.Context, id string) (*api.EventSubscription, error) {
	var row subscriptionRow
	err := p.db.GetContext(ctx, &row,
		p.rebind(`SELECT `+subscriptionColumns+` FROM wf_subscriptions WHERE subscription_id = ?`), id)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toSubscription()
}

// GetFirstOpenSubscription returns the oldest unreserved subscription for the
// key, or nil, nil.
func (p *SQLProvider) GetFirstOpenSubscription(ctx context.Context, eventName, eventKey string, asOf time.Time) (*api.EventSubscription, error) {
	var row subscriptionRow
	err := p.db.GetContext(ctx, &row, p.rebind(`
		SELECT `+subscriptionColumns+` FROM wf_subscriptions
		WHERE event_name = ? AND event_key = ? AND subscribe_as_of <= ?
			AND (external_token IS NULL OR external_token = '')
		ORDER BY persistence_id
		LIMIT 1`),
		eventName, eventKey, toStamp(asOf))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toSubscription()
}

// SetSubscriptionToken stores the reservation without checking the current
// holder. The stored expiry is one second before expiry.
func (p *SQLProvider) SetSubscriptionToken(ctx context.Context, id, token, workerID string, expiry time.Time) (bool, error) {
	if token == "" {
		return false, api.ErrEmptySubscriptionToken
	}
	res, err := p.db.ExecContext(ctx, p.rebind(`
		UPDATE wf_subscriptions
		SET external_token = ?, external_worker_id = ?, external_token_expiry = ?
		WHERE subscription_id = ?`),
		token, workerID, toStamp(expiry.Add(-time.Second)), id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, api.ErrSubscriptionNotFound
	}
	return true, nil
}

// ClearSubscriptionToken releases the reservation held under token. The
// comparison and the write are a single statement.
func (p *SQLProvider) ClearSubscriptionToken(ctx context.Context, id, token string) error {
	res, err := p.db.ExecContext(ctx, p.rebind(`
		UPDATE wf_subscriptions
		SET external_token = NULL, external_worker_id = NULL, external_token_expiry = NULL
		WHERE subscription_id = ? AND external_token = ?`),
		id, token)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var count int
	if err := p.db.GetContext(ctx, &count,
		p.rebind(`SELECT COUNT(*) FROM wf_subscriptions WHERE subscription_id = ?`), id); err != nil {
		return err
	}
	if count == 0 {
		return api.ErrSubscriptionNotFound
	}
	return api.ErrSubscriptionTokenMismatch
}
