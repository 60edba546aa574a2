package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/petrijr/wfstore/pkg/api"
)

const (
	insertWorkflowSQL = `
		INSERT INTO wf_workflows (instance_id, workflow_definition_id, version, description, reference,
			next_execution, status, data, create_time, complete_time)
		VALUES (:instance_id, :workflow_definition_id, :version, :description, :reference,
			:next_execution, :status, :data, :create_time, :complete_time)`

	updateWorkflowSQL = `
		UPDATE wf_workflows
		SET workflow_definition_id = :workflow_definition_id, version = :version,
			description = :description, reference = :reference, next_execution = :next_execution,
			status = :status, data = :data, create_time = :create_time, complete_time = :complete_time
		WHERE instance_id = :instance_id`

	insertPointerSQL = `
		INSERT INTO wf_execution_pointers (instance_id, ordinal, pointer_id, step_id, active, sleep_until,
			persistence_data, start_time, end_time, event_name, event_key, event_published, event_data,
			step_name, retry_count, children, context_item, predecessor_id, outcome, status, scope)
		VALUES (:instance_id, :ordinal, :pointer_id, :step_id, :active, :sleep_until,
			:persistence_data, :start_time, :end_time, :event_name, :event_key, :event_published, :event_data,
			:step_name, :retry_count, :children, :context_item, :predecessor_id, :outcome, :status, :scope)`

	updatePointerSQL = `
		UPDATE wf_execution_pointers
		SET ordinal = :ordinal, step_id = :step_id, active = :active, sleep_until = :sleep_until,
			persistence_data = :persistence_data, start_time = :start_time, end_time = :end_time,
			event_name = :event_name, event_key = :event_key, event_published = :event_published,
			event_data = :event_data, step_name = :step_name, retry_count = :retry_count,
			children = :children, context_item = :context_item, predecessor_id = :predecessor_id,
			outcome = :outcome, status = :status, scope = :scope
		WHERE instance_id = :instance_id AND pointer_id = :pointer_id`

	insertAttributeSQL = `
		INSERT INTO wf_extension_attributes (instance_id, pointer_id, attribute_key, attribute_value)
		VALUES (:instance_id, :pointer_id, :attribute_key, :attribute_value)`
)

// CreateNewWorkflow inserts wf with a fresh ID together with its pointers
// and their attributes.
func (p *SQLProvider) CreateNewWorkflow(ctx context.Context, wf *api.WorkflowInstance) (string, error) {
	wf.ID = p.opts.newID()
	if wf.CreateTime.IsZero() {
		wf.CreateTime = p.opts.now().UTC()
	}

	row, err := newWorkflowRow(wf)
	if err != nil {
		return "", err
	}

	err = p.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertWorkflowSQL, row); err != nil {
			return duplicateID("workflow instance", wf.ID, err)
		}
		for i, ep := range wf.ExecutionPointers {
			if err := p.insertPointer(ctx, tx, wf.ID, i, ep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	p.opts.observer.OnWorkflowCreated(ctx, wf)
	return wf.ID, nil
}

// PersistWorkflow overwrites the stored instance with wf.
func (p *SQLProvider) PersistWorkflow(ctx context.Context, wf *api.WorkflowInstance) error {
	return p.PersistWorkflowWithSubscriptions(ctx, wf, nil)
}

// PersistWorkflowWithSubscriptions overwrites the stored instance with wf and
// inserts subs in the same transaction. The subscriptions' IDs are assigned
// only after the commit.
func (p *SQLProvider) PersistWorkflowWithSubscriptions(ctx context.Context, wf *api.WorkflowInstance, subs []*api.EventSubscription) error {
	ids := make([]string, len(subs))
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := p.updateWorkflow(ctx, tx, wf); err != nil {
			return err
		}
		for i, sub := range subs {
			ids[i] = p.opts.newID()
			if err := p.insertSubscription(ctx, tx, ids[i], sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, sub := range subs {
		sub.ID = ids[i]
	}

	p.opts.observer.OnWorkflowPersisted(ctx, wf, len(subs))
	return nil
}

// updateWorkflow merges wf into the stored aggregate: pointers are matched by
// ID and updated in place, new ones inserted, vanished ones deleted.
// Extension attributes are rewritten.
func (p *SQLProvider) updateWorkflow(ctx context.Context, tx *sqlx.Tx, wf *api.WorkflowInstance) error {
	var persistenceID int64
	err := tx.GetContext(ctx, &persistenceID,
		p.rebind(`SELECT persistence_id FROM wf_workflows WHERE instance_id = ?`), wf.ID)
	if isNoRows(err) {
		return api.ErrWorkflowNotFound
	}
	if err != nil {
		return err
	}

	row, err := newWorkflowRow(wf)
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, updateWorkflowSQL, row); err != nil {
		return err
	}

	var existing []string
	if err := tx.SelectContext(ctx, &existing,
		p.rebind(`SELECT pointer_id FROM wf_execution_pointers WHERE instance_id = ?`), wf.ID); err != nil {
		return err
	}
	stale := make(map[string]bool, len(existing))
	for _, id := range existing {
		stale[id] = true
	}

	if _, err := tx.ExecContext(ctx,
		p.rebind(`DELETE FROM wf_extension_attributes WHERE instance_id = ?`), wf.ID); err != nil {
		return err
	}

	for i, ep := range wf.ExecutionPointers {
		if ep.ID != "" && stale[ep.ID] {
			delete(stale, ep.ID)
			if err := p.updatePointer(ctx, tx, wf.ID, i, ep); err != nil {
				return err
			}
			continue
		}
		if err := p.insertPointer(ctx, tx, wf.ID, i, ep); err != nil {
			return err
		}
	}

	if len(stale) == 0 {
		return nil
	}
	ids := make([]string, 0, len(stale))
	for id := range stale {
		ids = append(ids, id)
	}
	q, args, err := p.in(`DELETE FROM wf_execution_pointers WHERE instance_id = ? AND pointer_id IN (?)`, wf.ID, ids)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, q, args...)
	return err
}

func (p *SQLProvider) insertPointer(ctx context.Context, tx *sqlx.Tx, instanceID string, ordinal int, ep *api.ExecutionPointer) error {
	if ep.ID == "" {
		ep.ID = p.opts.newID()
	}
	row, err := newPointerRow(instanceID, ordinal, ep)
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, insertPointerSQL, row); err != nil {
		return err
	}
	return p.insertAttributes(ctx, tx, instanceID, ep)
}

func (p *SQLProvider) updatePointer(ctx context.Context, tx *sqlx.Tx, instanceID string, ordinal int, ep *api.ExecutionPointer) error {
	row, err := newPointerRow(instanceID, ordinal, ep)
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, updatePointerSQL, row); err != nil {
		return err
	}
	return p.insertAttributes(ctx, tx, instanceID, ep)
}

func (p *SQLProvider) insertAttributes(ctx context.Context, tx *sqlx.Tx, instanceID string, ep *api.ExecutionPointer) error {
	for key, value := range ep.ExtensionAttributes {
		encoded, err := EncodeValue(value)
		if err != nil {
			return err
		}
		row := attributeRow{InstanceID: instanceID, PointerID: ep.ID, Key: key, Value: encoded}
		if _, err := tx.NamedExecContext(ctx, insertAttributeSQL, row); err != nil {
			return err
		}
	}
	return nil
}

// GetRunnableInstances returns IDs of runnable instances that are due at asAt.
func (p *SQLProvider) GetRunnableInstances(ctx context.Context, asAt time.Time) ([]string, error) {
	var ids []string
	err := p.db.SelectContext(ctx, &ids, p.rebind(`
		SELECT instance_id FROM wf_workflows
		WHERE status = ? AND next_execution IS NOT NULL AND next_execution <= ?`),
		int(api.WorkflowStatusRunnable), toStamp(asAt))
	return ids, err
}

// GetWorkflowInstances returns instances matching filter, oldest first.
func (p *SQLProvider) GetWorkflowInstances(ctx context.Context, filter api.InstanceFilter) ([]*api.WorkflowInstance, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, int(*filter.Status))
	}
	if filter.Type != "" {
		clauses = append(clauses, "workflow_definition_id = ?")
		args = append(args, filter.Type)
	}
	if filter.CreatedFrom != nil {
		clauses = append(clauses, "create_time >= ?")
		args = append(args, toStamp(*filter.CreatedFrom))
	}
	if filter.CreatedTo != nil {
		clauses = append(clauses, "create_time <= ?")
		args = append(args, toStamp(*filter.CreatedTo))
	}

	query := "SELECT " + workflowColumns + " FROM wf_workflows"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY create_time, persistence_id" + p.dialect.limitOffset(filter.Take, filter.Skip)

	var rows []workflowRow
	if err := p.db.SelectContext(ctx, &rows, p.rebind(query), args...); err != nil {
		return nil, err
	}
	return p.loadInstances(ctx, rows)
}

// GetWorkflowInstance returns nil, nil when id is unknown.
func (p *SQLProvider) GetWorkflowInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	var row workflowRow
	err := p.db.GetContext(ctx, &row,
		p.rebind("SELECT "+workflowColumns+" FROM wf_workflows WHERE instance_id = ?"), id)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	instances, err := p.loadInstances(ctx, []workflowRow{row})
	if err != nil {
		return nil, err
	}
	return instances[0], nil
}

// GetWorkflowInstancesByIDs returns the instances that exist among ids.
func (p *SQLProvider) GetWorkflowInstancesByIDs(ctx context.Context, ids []string) ([]*api.WorkflowInstance, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := p.in("SELECT "+workflowColumns+" FROM wf_workflows WHERE instance_id IN (?) ORDER BY persistence_id", ids)
	if err != nil {
		return nil, err
	}
	var rows []workflowRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return p.loadInstances(ctx, rows)
}

// loadInstances attaches pointers and attributes to the given workflow rows
// using one query per child table.
func (p *SQLProvider) loadInstances(ctx context.Context, rows []workflowRow) ([]*api.WorkflowInstance, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.InstanceID
	}

	q, args, err := p.in("SELECT "+pointerColumns+" FROM wf_execution_pointers WHERE instance_id IN (?) ORDER BY instance_id, ordinal", ids)
	if err != nil {
		return nil, err
	}
	var pointerRows []pointerRow
	if err := p.db.SelectContext(ctx, &pointerRows, q, args...); err != nil {
		return nil, err
	}

	q, args, err = p.in("SELECT "+attributeColumns+" FROM wf_extension_attributes WHERE instance_id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	var attrRows []attributeRow
	if err := p.db.SelectContext(ctx, &attrRows, q, args...); err != nil {
		return nil, err
	}

	type pointerKey struct{ instance, pointer string }
	attrs := make(map[pointerKey]map[string]any)
	for _, a := range attrRows {
		v, err := DecodeValue[any](a.Value)
		if err != nil {
			return nil, err
		}
		k := pointerKey{a.InstanceID, a.PointerID}
		if attrs[k] == nil {
			attrs[k] = make(map[string]any)
		}
		attrs[k][a.Key] = v
	}

	pointers := make(map[string][]*api.ExecutionPointer, len(rows))
	for _, pr := range pointerRows {
		ep, err := pr.toPointer()
		if err != nil {
			return nil, err
		}
		ep.ExtensionAttributes = attrs[pointerKey{pr.InstanceID, pr.PointerID}]
		if ep.ExtensionAttributes == nil {
			ep.ExtensionAttributes = make(map[string]any)
		}
		pointers[pr.InstanceID] = append(pointers[pr.InstanceID], ep)
	}

	out := make([]*api.WorkflowInstance, 0, len(rows))
	for _, r := range rows {
		wf, err := r.toInstance()
		if err != nil {
			return nil, err
		}
		wf.ExecutionPointers = pointers[r.InstanceID]
		out = append(out, wf)
	}
	return out, nil
}
