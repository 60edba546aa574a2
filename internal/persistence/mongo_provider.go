package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/wfstore/pkg/api"
)

// MongoProvider is a PersistenceProvider backed by MongoDB. A workflow
// instance is stored as a single document embedding its execution pointers
// and their attributes. Multi-document writes use session transactions, so
// the server must run as a replica set.
type MongoProvider struct {
	client *mongo.Client
	opts   options

	workflows     *mongo.Collection
	subscriptions *mongo.Collection
	events        *mongo.Collection
	commands      *mongo.Collection
	errors        *mongo.Collection
	counters      *mongo.Collection
}

// Ensure MongoProvider implements PersistenceProvider.
var _ api.PersistenceProvider = (*MongoProvider)(nil)

// NewMongoProvider creates a Mongo-backed provider. dbName defaults to
// "wfstore" if empty.
func NewMongoProvider(client *mongo.Client, dbName string, opts ...Option) *MongoProvider {
	if dbName == "" {
		dbName = "wfstore"
	}
	db := client.Database(dbName)
	return &MongoProvider{
		client:        client,
		opts:          buildOptions(opts),
		workflows:     db.Collection("workflows"),
		subscriptions: db.Collection("subscriptions"),
		events:        db.Collection("events"),
		commands:      db.Collection("scheduled_commands"),
		errors:        db.Collection("execution_errors"),
		counters:      db.Collection("counters"),
	}
}

type mongoAttributeDoc struct {
	Key   string `bson:"key"`
	Value []byte `bson:"value,omitempty"`
}

type mongoPointerDoc struct {
	ID              string              `bson:"id"`
	StepID          int                 `bson:"step_id"`
	Active          bool                `bson:"active"`
	SleepUntil      *stamp              `bson:"sleep_until,omitempty"`
	PersistenceData []byte              `bson:"persistence_data,omitempty"`
	StartTime       *stamp              `bson:"start_time,omitempty"`
	EndTime         *stamp              `bson:"end_time,omitempty"`
	EventName       string              `bson:"event_name,omitempty"`
	EventKey        string              `bson:"event_key,omitempty"`
	EventPublished  bool                `bson:"event_published"`
	EventData       []byte              `bson:"event_data,omitempty"`
	StepName        string              `bson:"step_name,omitempty"`
	RetryCount      int                 `bson:"retry_count"`
	Children        []string            `bson:"children,omitempty"`
	ContextItem     []byte              `bson:"context_item,omitempty"`
	PredecessorID   string              `bson:"predecessor_id,omitempty"`
	Outcome         []byte              `bson:"outcome,omitempty"`
	Status          int                 `bson:"status"`
	Scope           []string            `bson:"scope,omitempty"`
	Attributes      []mongoAttributeDoc `bson:"attributes,omitempty"`
}

// mongoWorkflowBody holds every field PersistWorkflow may overwrite.
type mongoWorkflowBody struct {
	WorkflowDefinitionID string            `bson:"workflow_definition_id"`
	Version              int               `bson:"version"`
	Description          string            `bson:"description,omitempty"`
	Reference            string            `bson:"reference,omitempty"`
	NextExecution        *stamp            `bson:"next_execution"`
	Status               int               `bson:"status"`
	Data                 []byte            `bson:"data,omitempty"`
	CreateTime           stamp             `bson:"create_time"`
	CompleteTime         *stamp            `bson:"complete_time,omitempty"`
	Pointers             []mongoPointerDoc `bson:"pointers"`
}

type mongoWorkflowDoc struct {
	ID   string            `bson:"_id"`
	Seq  int64             `bson:"seq"`
	Body mongoWorkflowBody `bson:",inline"`
}

type mongoSubscriptionDoc struct {
	ID                  string `bson:"_id"`
	Seq                 int64  `bson:"seq"`
	WorkflowID          string `bson:"workflow_id"`
	StepID              int    `bson:"step_id"`
	ExecutionPointerID  string `bson:"execution_pointer_id,omitempty"`
	EventName           string `bson:"event_name"`
	EventKey            string `bson:"event_key"`
	SubscribeAsOf       stamp  `bson:"subscribe_as_of"`
	SubscriptionData    []byte `bson:"subscription_data,omitempty"`
	ExternalToken       string `bson:"external_token,omitempty"`
	ExternalWorkerID    string `bson:"external_worker_id,omitempty"`
	ExternalTokenExpiry *stamp `bson:"external_token_expiry,omitempty"`
}

type mongoEventDoc struct {
	ID          string `bson:"_id"`
	Seq         int64  `bson:"seq"`
	EventName   string `bson:"event_name"`
	EventKey    string `bson:"event_key"`
	EventData   []byte `bson:"event_data,omitempty"`
	EventTime   stamp  `bson:"event_time"`
	IsProcessed bool   `bson:"is_processed"`
}

type mongoCommandDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	CommandName string             `bson:"command_name"`
	Data        string             `bson:"data"`
	ExecuteTime stamp              `bson:"execute_time"`
}

type mongoErrorDoc struct {
	WorkflowID         string `bson:"workflow_id"`
	ExecutionPointerID string `bson:"execution_pointer_id,omitempty"`
	ErrorTime          stamp  `bson:"error_time"`
	Message            string `bson:"message"`
}

// EnsureStoreExists creates the indexes the queries rely on, including the
// unique key on scheduled commands.
func (p *MongoProvider) EnsureStoreExists(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{p.workflows, []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_execution", Value: 1}}},
			{Keys: bson.D{{Key: "workflow_definition_id", Value: 1}}},
			{Keys: bson.D{{Key: "create_time", Value: 1}, {Key: "seq", Value: 1}}},
		}},
		{p.subscriptions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "event_name", Value: 1}, {Key: "event_key", Value: 1}, {Key: "seq", Value: 1}}},
		}},
		{p.events, []mongo.IndexModel{
			{Keys: bson.D{{Key: "is_processed", Value: 1}, {Key: "event_time", Value: 1}}},
			{Keys: bson.D{{Key: "event_name", Value: 1}, {Key: "event_key", Value: 1}, {Key: "event_time", Value: 1}}},
		}},
		{p.commands, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "command_name", Value: 1}, {Key: "data", Value: 1}},
				Options: mongooptions.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "execute_time", Value: 1}}},
		}},
		{p.errors, []mongo.IndexModel{
			{Keys: bson.D{{Key: "workflow_id", Value: 1}}},
		}},
	}

	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateMany(ctx, ix.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

// withTx runs fn inside a session transaction. fn's error is returned as is.
func (p *MongoProvider) withTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := p.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// nextSeq returns a strictly increasing number per name, used to keep
// creation order.
func (p *MongoProvider) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := p.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		mongooptions.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(mongooptions.After),
	).Decode(&doc)
	return doc.Value, err
}

func newMongoWorkflowBody(wf *api.WorkflowInstance) (mongoWorkflowBody, error) {
	data, err := EncodeValue(wf.Data)
	if err != nil {
		return mongoWorkflowBody{}, err
	}
	body := mongoWorkflowBody{
		WorkflowDefinitionID: wf.WorkflowDefinitionID,
		Version:              wf.Version,
		Description:          wf.Description,
		Reference:            wf.Reference,
		NextExecution:        toStampPtr(wf.NextExecution),
		Status:               int(wf.Status),
		Data:                 data,
		CreateTime:           toStamp(wf.CreateTime),
		CompleteTime:         toStampPtr(wf.CompleteTime),
		Pointers:             make([]mongoPointerDoc, 0, len(wf.ExecutionPointers)),
	}
	for _, ep := range wf.ExecutionPointers {
		doc, err := newMongoPointerDoc(ep)
		if err != nil {
			return body, err
		}
		body.Pointers = append(body.Pointers, doc)
	}
	return body, nil
}

func newMongoPointerDoc(ep *api.ExecutionPointer) (mongoPointerDoc, error) {
	doc := mongoPointerDoc{
		ID:             ep.ID,
		StepID:         ep.StepID,
		Active:         ep.Active,
		SleepUntil:     toStampPtr(ep.SleepUntil),
		StartTime:      toStampPtr(ep.StartTime),
		EndTime:        toStampPtr(ep.EndTime),
		EventName:      ep.EventName,
		EventKey:       ep.EventKey,
		EventPublished: ep.EventPublished,
		StepName:       ep.StepName,
		RetryCount:     ep.RetryCount,
		Children:       ep.Children,
		PredecessorID:  ep.PredecessorID,
		Status:         int(ep.Status),
		Scope:          ep.Scope,
	}
	var err error
	if doc.PersistenceData, err = EncodeValue(ep.PersistenceData); err != nil {
		return doc, err
	}
	if doc.EventData, err = EncodeValue(ep.EventData); err != nil {
		return doc, err
	}
	if doc.ContextItem, err = EncodeValue(ep.ContextItem); err != nil {
		return doc, err
	}
	if doc.Outcome, err = EncodeValue(ep.Outcome); err != nil {
		return doc, err
	}
	for key, value := range ep.ExtensionAttributes {
		encoded, err := EncodeValue(value)
		if err != nil {
			return doc, err
		}
		doc.Attributes = append(doc.Attributes, mongoAttributeDoc{Key: key, Value: encoded})
	}
	return doc, nil
}

func (d mongoWorkflowDoc) toInstance() (*api.WorkflowInstance, error) {
	data, err := DecodeValue[any](d.Body.Data)
	if err != nil {
		return nil, err
	}
	var ts stampReader
	wf := &api.WorkflowInstance{
		ID:                   d.ID,
		WorkflowDefinitionID: d.Body.WorkflowDefinitionID,
		Version:              d.Body.Version,
		Description:          d.Body.Description,
		Reference:            d.Body.Reference,
		NextExecution:        ts.ptr(d.Body.NextExecution),
		Status:               api.WorkflowStatus(d.Body.Status),
		Data:                 data,
		CreateTime:           ts.time(d.Body.CreateTime),
		CompleteTime:         ts.ptr(d.Body.CompleteTime),
	}
	if ts.err != nil {
		return nil, ts.err
	}
	for _, pd := range d.Body.Pointers {
		ep, err := pd.toPointer()
		if err != nil {
			return nil, err
		}
		wf.ExecutionPointers = append(wf.ExecutionPointers, ep)
	}
	return wf, nil
}

func (d mongoPointerDoc) toPointer() (*api.ExecutionPointer, error) {
	var ts stampReader
	ep := &api.ExecutionPointer{
		ID:                  d.ID,
		StepID:              d.StepID,
		Active:              d.Active,
		SleepUntil:          ts.ptr(d.SleepUntil),
		StartTime:           ts.ptr(d.StartTime),
		EndTime:             ts.ptr(d.EndTime),
		EventName:           d.EventName,
		EventKey:            d.EventKey,
		EventPublished:      d.EventPublished,
		StepName:            d.StepName,
		RetryCount:          d.RetryCount,
		Children:            d.Children,
		PredecessorID:       d.PredecessorID,
		Status:              api.PointerStatus(d.Status),
		Scope:               d.Scope,
		ExtensionAttributes: make(map[string]any, len(d.Attributes)),
	}
	if ts.err != nil {
		return nil, ts.err
	}
	var err error
	if ep.PersistenceData, err = DecodeValue[any](d.PersistenceData); err != nil {
		return nil, err
	}
	if ep.EventData, err = DecodeValue[any](d.EventData); err != nil {
		return nil, err
	}
	if ep.ContextItem, err = DecodeValue[any](d.ContextItem); err != nil {
		return nil, err
	}
	if ep.Outcome, err = DecodeValue[any](d.Outcome); err != nil {
		return nil, err
	}
	for _, a := range d.Attributes {
		v, err := DecodeValue[any](a.Value)
		if err != nil {
			return nil, err
		}
		ep.ExtensionAttributes[a.Key] = v
	}
	return ep, nil
}

func (p *MongoProvider) CreateNewWorkflow(ctx context.Context, wf *api.WorkflowInstance) (string, error) {
	wf.ID = p.opts.newID()
	if wf.CreateTime.IsZero() {
		wf.CreateTime = p.opts.now().UTC()
	}
	for _, ep := range wf.ExecutionPointers {
		if ep.ID == "" {
			ep.ID = p.opts.newID()
		}
	}

	body, err := newMongoWorkflowBody(wf)
	if err != nil {
		return "", err
	}
	seq, err := p.nextSeq(ctx, "workflows")
	if err != nil {
		return "", err
	}
	if _, err := p.workflows.InsertOne(ctx, mongoWorkflowDoc{ID: wf.ID, Seq: seq, Body: body}); err != nil {
		return "", mongoDuplicateID("workflow instance", wf.ID, err)
	}

	p.opts.observer.OnWorkflowCreated(ctx, wf)
	return wf.ID, nil
}

func (p *MongoProvider) PersistWorkflow(ctx context.Context, wf *api.WorkflowInstance) error {
	return p.PersistWorkflowWithSubscriptions(ctx, wf, nil)
}

// PersistWorkflowWithSubscriptions replaces the instance document. When subs
// is non-empty the replacement and the inserts share one transaction, and
// their IDs are set only after it commits.
func (p *MongoProvider) PersistWorkflowWithSubscriptions(ctx context.Context, wf *api.WorkflowInstance, subs []*api.EventSubscription) error {
	for _, ep := range wf.ExecutionPointers {
		if ep.ID == "" {
			ep.ID = p.opts.newID()
		}
	}
	body, err := newMongoWorkflowBody(wf)
	if err != nil {
		return err
	}

	ids := make([]string, len(subs))
	write := func(ctx context.Context) error {
		res, err := p.workflows.UpdateByID(ctx, wf.ID, bson.M{"$set": body})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return api.ErrWorkflowNotFound
		}
		for i, sub := range subs {
			ids[i] = p.opts.newID()
			if err := p.insertSubscription(ctx, ids[i], sub); err != nil {
				return err
			}
		}
		return nil
	}

	if len(subs) == 0 {
		err = write(ctx)
	} else {
		err = p.withTx(ctx, func(sc mongo.SessionContext) error { return write(sc) })
	}
	if err != nil {
		return err
	}
	for i, sub := range subs {
		sub.ID = ids[i]
	}

	p.opts.observer.OnWorkflowPersisted(ctx, wf, len(subs))
	return nil
}

func (p *MongoProvider) GetRunnableInstances(ctx context.Context, asAt time.Time) ([]string, error) {
	filter := bson.M{
		"status":         int(api.WorkflowStatusRunnable),
		"next_execution": bson.M{"$ne": nil, "$lte": toStamp(asAt)},
	}
	return p.findIDs(ctx, p.workflows, filter, nil)
}

func (p *MongoProvider) GetWorkflowInstances(ctx context.Context, filter api.InstanceFilter) ([]*api.WorkflowInstance, error) {
	q := bson.M{}
	if filter.Status != nil {
		q["status"] = int(*filter.Status)
	}
	if filter.Type != "" {
		q["workflow_definition_id"] = filter.Type
	}
	created := bson.M{}
	if filter.CreatedFrom != nil {
		created["$gte"] = toStamp(*filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		created["$lte"] = toStamp(*filter.CreatedTo)
	}
	if len(created) > 0 {
		q["create_time"] = created
	}

	findOpts := mongooptions.Find().SetSort(bson.D{{Key: "create_time", Value: 1}, {Key: "seq", Value: 1}})
	if filter.Skip > 0 {
		findOpts.SetSkip(int64(filter.Skip))
	}
	if filter.Take > 0 {
		findOpts.SetLimit(int64(filter.Take))
	}
	return p.findInstances(ctx, q, findOpts)
}

func (p *MongoProvider) GetWorkflowInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	var doc mongoWorkflowDoc
	err := p.workflows.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toInstance()
}

func (p *MongoProvider) GetWorkflowInstancesByIDs(ctx context.Context, ids []string) ([]*api.WorkflowInstance, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return p.findInstances(ctx, bson.M{"_id": bson.M{"$in": ids}},
		mongooptions.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
}

func (p *MongoProvider) findInstances(ctx context.Context, filter bson.M, findOpts *mongooptions.FindOptions) ([]*api.WorkflowInstance, error) {
	cur, err := p.workflows.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*api.WorkflowInstance
	for cur.Next(ctx) {
		var doc mongoWorkflowDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		wf, err := doc.toInstance()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, cur.Err()
}

// findIDs returns the string _id of every matching document.
func (p *MongoProvider) findIDs(ctx context.Context, coll *mongo.Collection, filter bson.M, sort bson.D) ([]string, error) {
	findOpts := mongooptions.Find().SetProjection(bson.M{"_id": 1})
	if sort != nil {
		findOpts.SetSort(sort)
	}
	cur, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

func (p *MongoProvider) CreateEventSubscription(ctx context.Context, sub *api.EventSubscription) (string, error) {
	id := p.opts.newID()
	if err := p.insertSubscription(ctx, id, sub); err != nil {
		return "", err
	}
	sub.ID = id
	return id, nil
}

func (p *MongoProvider) insertSubscription(ctx context.Context, id string, sub *api.EventSubscription) error {
	data, err := EncodeValue(sub.SubscriptionData)
	if err != nil {
		return err
	}
	seq, err := p.nextSeq(ctx, "subscriptions")
	if err != nil {
		return err
	}
	_, err = p.subscriptions.InsertOne(ctx, mongoSubscriptionDoc{
		ID:                  id,
		Seq:                 seq,
		WorkflowID:          sub.WorkflowID,
		StepID:              sub.StepID,
		ExecutionPointerID:  sub.ExecutionPointerID,
		EventName:           sub.EventName,
		EventKey:            sub.EventKey,
		SubscribeAsOf:       toStamp(sub.SubscribeAsOf),
		SubscriptionData:    data,
		ExternalToken:       sub.ExternalToken,
		ExternalWorkerID:    sub.ExternalWorkerID,
		ExternalTokenExpiry: toStampPtr(sub.ExternalTokenExpiry),
	})
	return mongoDuplicateID("event subscription", id, err)
}

// mongoDuplicateID tags a duplicate key error on the insert of record id
// with api.ErrDuplicateID.
func mongoDuplicateID(kind, id string, err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return fmt.Errorf("%w: %s %q: %w", api.ErrDuplicateID, kind, id, err)
}

func (d mongoSubscriptionDoc) toSubscription() (*api.EventSubscription, error) {
	data, err := DecodeValue[any](d.SubscriptionData)
	if err != nil {
		return nil, err
	}
	var ts stampReader
	sub := &api.EventSubscription{
		ID:                  d.ID,
		WorkflowID:          d.WorkflowID,
		StepID:              d.StepID,
		ExecutionPointerID:  d.ExecutionPointerID,
		EventName:           d.EventName,
		EventKey:            d.EventKey,
		SubscribeAsOf:       ts.time(d.SubscribeAsOf),
		SubscriptionData:    data,
		ExternalToken:       d.ExternalToken,
		ExternalWorkerID:    d.ExternalWorkerID,
		ExternalTokenExpiry: ts.ptr(d.ExternalTokenExpiry),
	}
	if ts.err != nil {
		return nil, ts.err
	}
	return sub, nil
}

func subscriptionKeyFilter(eventName, eventKey string, asOf time.Time) bson.M {
	return bson.M{
		"event_name":      eventName,
		"event_key":       eventKey,
		"subscribe_as_of": bson.M{"$lte": toStamp(asOf)},
	}
}

func (p *MongoProvider) GetSubscriptions(ctx context.Context, eventName, eventKey string, asOf time.Time) ([]*api.EventSubscription, error) {
	cur, err := p.subscriptions.Find(ctx, subscriptionKeyFilter(eventName, eventKey, asOf),
		mongooptions.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	subs := []*api.EventSubscription{}
	for cur.Next(ctx) {
		var doc mongoSubscriptionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		sub, err := doc.toSubscription()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, cur.Err()
}

func (p *MongoProvider) TerminateSubscription(ctx context.Context, id string) error {
	_, err := p.subscriptions.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (p *MongoProvider) GetSubscription(ctx context.Context, id string) (*api.EventSubscription, error) {
	var doc mongoSubscriptionDoc
	err := p.subscriptions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toSubscription()
}

func (p *MongoProvider) GetFirstOpenSubscription(ctx context.Context, eventName, eventKey string, asOf time.Time) (*api.EventSubscription, error) {
	filter := subscriptionKeyFilter(eventName, eventKey, asOf)
	filter["external_token"] = bson.M{"$in": bson.A{nil, ""}}

	var doc mongoSubscriptionDoc
	err := p.subscriptions.FindOne(ctx, filter,
		mongooptions.FindOne().SetSort(bson.D{{Key: "seq", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toSubscription()
}

func (p *MongoProvider) SetSubscriptionToken(ctx context.Context, id, token, workerID string, expiry time.Time) (bool, error) {
	if token == "" {
		return false, api.ErrEmptySubscriptionToken
	}
	res, err := p.subscriptions.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"external_token":        token,
		"external_worker_id":    workerID,
		"external_token_expiry": toStamp(expiry.Add(-time.Second)),
	}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, api.ErrSubscriptionNotFound
	}
	return true, nil
}

// ClearSubscriptionToken matches on both id and token in one update, so a
// stale holder can never release someone else's reservation.
func (p *MongoProvider) ClearSubscriptionToken(ctx context.Context, id, token string) error {
	res, err := p.subscriptions.UpdateOne(ctx,
		bson.M{"_id": id, "external_token": token},
		bson.M{"$unset": bson.M{
			"external_token":        "",
			"external_worker_id":    "",
			"external_token_expiry": "",
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := p.subscriptions.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrSubscriptionNotFound
	}
	return api.ErrSubscriptionTokenMismatch
}

func (p *MongoProvider) CreateEvent(ctx context.Context, ev *api.Event) (string, error) {
	ev.ID = p.opts.newID()
	data, err := EncodeValue(ev.EventData)
	if err != nil {
		return "", err
	}
	seq, err := p.nextSeq(ctx, "events")
	if err != nil {
		return "", err
	}
	_, err = p.events.InsertOne(ctx, mongoEventDoc{
		ID:          ev.ID,
		Seq:         seq,
		EventName:   ev.EventName,
		EventKey:    ev.EventKey,
		EventData:   data,
		EventTime:   toStamp(ev.EventTime),
		IsProcessed: ev.IsProcessed,
	})
	if err != nil {
		return "", mongoDuplicateID("event", ev.ID, err)
	}
	return ev.ID, nil
}

func (p *MongoProvider) GetEvent(ctx context.Context, id string) (*api.Event, error) {
	var doc mongoEventDoc
	err := p.events.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := DecodeValue[any](doc.EventData)
	if err != nil {
		return nil, err
	}
	var ts stampReader
	ev := &api.Event{
		ID:          doc.ID,
		EventName:   doc.EventName,
		EventKey:    doc.EventKey,
		EventData:   data,
		EventTime:   ts.time(doc.EventTime),
		IsProcessed: doc.IsProcessed,
	}
	if ts.err != nil {
		return nil, ts.err
	}
	return ev, nil
}

var eventOrder = bson.D{{Key: "event_time", Value: 1}, {Key: "seq", Value: 1}}

func (p *MongoProvider) GetRunnableEvents(ctx context.Context, asAt time.Time) ([]string, error) {
	return p.findIDs(ctx, p.events, bson.M{
		"is_processed": false,
		"event_time":   bson.M{"$lte": toStamp(asAt)},
	}, eventOrder)
}

func (p *MongoProvider) GetEvents(ctx context.Context, eventName, eventKey string, asOf time.Time) ([]string, error) {
	return p.findIDs(ctx, p.events, bson.M{
		"event_name": eventName,
		"event_key":  eventKey,
		"event_time": bson.M{"$gte": toStamp(asOf)},
	}, eventOrder)
}

func (p *MongoProvider) MarkEventProcessed(ctx context.Context, id string) error {
	_, err := p.events.UpdateByID(ctx, id, bson.M{"$set": bson.M{"is_processed": true}})
	return err
}

func (p *MongoProvider) MarkEventUnprocessed(ctx context.Context, id string) error {
	_, err := p.events.UpdateByID(ctx, id, bson.M{"$set": bson.M{"is_processed": false}})
	return err
}

func (p *MongoProvider) SupportsScheduledCommands() bool {
	return true
}

func (p *MongoProvider) ScheduleCommand(ctx context.Context, cmd *api.ScheduledCommand) {
	_, err := p.commands.InsertOne(ctx, mongoCommandDoc{
		CommandName: cmd.CommandName,
		Data:        cmd.Data,
		ExecuteTime: toStamp(cmd.ExecuteTime),
	})
	reportScheduleResult(ctx, p.opts, cmd, err)
}

func (p *MongoProvider) ProcessCommands(ctx context.Context, asOf time.Time, action api.CommandAction) error {
	cur, err := p.commands.Find(ctx,
		bson.M{"execute_time": bson.M{"$lt": toStamp(asOf)}},
		mongooptions.Find().SetSort(bson.D{{Key: "execute_time", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return fmt.Errorf("load due commands: %w", err)
	}
	var docs []mongoCommandDoc
	if err := cur.All(ctx, &docs); err != nil {
		return fmt.Errorf("load due commands: %w", err)
	}

	var ts stampReader
	due := make([]dueCommand[primitive.ObjectID], len(docs))
	for i, d := range docs {
		due[i] = dueCommand[primitive.ObjectID]{
			key: d.ID,
			cmd: &api.ScheduledCommand{
				CommandName: d.CommandName,
				Data:        d.Data,
				ExecuteTime: ts.time(d.ExecuteTime),
			},
		}
	}
	if ts.err != nil {
		return fmt.Errorf("load due commands: %w", ts.err)
	}

	return sweepCommands(ctx, p.opts, due, action, func(ctx context.Context, id primitive.ObjectID) error {
		_, err := p.commands.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
}

func (p *MongoProvider) PersistErrors(ctx context.Context, errs []*api.ExecutionError) error {
	if len(errs) == 0 {
		return nil
	}
	docs := make([]any, len(errs))
	for i, e := range errs {
		docs[i] = mongoErrorDoc{
			WorkflowID:         e.WorkflowID,
			ExecutionPointerID: e.ExecutionPointerID,
			ErrorTime:          toStamp(e.ErrorTime),
			Message:            e.Message,
		}
	}
	return p.withTx(ctx, func(sc mongo.SessionContext) error {
		_, err := p.errors.InsertMany(sc, docs)
		return err
	})
}
