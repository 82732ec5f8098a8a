package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"scale-task-dashboard/internal/modal"
)

const defaultMongoDatabase = "scale"

// Mongo stores one document per task in the `tasks` collection. The client connects
// lazily; the unique task_id index is created before the first upsert.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection

	mu      sync.Mutex
	indexed bool
}

// taskDoc is the stored document. Timestamps are BSON dates, or strings when the
// external service sent something that is not a time.
type taskDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	TaskID      string             `bson:"task_id"`
	CreatedAt   any                `bson:"created_at,omitempty"`
	CompletedAt any                `bson:"completed_at,omitempty"`
	Status      string             `bson:"status,omitempty"`
	Params      any                `bson:"params,omitempty"`
	Response    any                `bson:"response,omitempty"`
}

func newTaskDoc(taskID string, t modal.Task) taskDoc {
	return taskDoc{
		TaskID:      taskID,
		CreatedAt:   bsonTimestamp(t.CreatedAt),
		CompletedAt: bsonTimestamp(t.CompletedAt),
		Status:      t.Status,
		Params:      t.Params,
		Response:    t.Response,
	}
}

func OpenMongo(ctx context.Context, uri string) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongodb")
	}
	coll := client.Database(mongoDatabase(uri)).Collection(tasksTable)
	return &Mongo{client: client, coll: coll}, nil
}

func mongoDatabase(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}

func (m *Mongo) ensureIndex(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexed {
		return nil
	}
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: FieldTaskID, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Wrap(err, "create task_id index")
	}
	m.indexed = true
	return nil
}

func (m *Mongo) ListTasks(ctx context.Context, q Query) ([]modal.Task, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	dir := 1
	if q.Descending {
		dir = -1
	}
	projection := bson.D{}
	for _, f := range q.Fields {
		projection = append(projection, bson.E{Key: f, Value: 1})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: q.SortBy, Value: dir}}).
		SetProjection(projection)

	cur, err := m.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	var docs []taskDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}

	tasks := make([]modal.Task, 0, len(docs))
	for _, d := range docs {
		tasks = append(tasks, d.task())
	}
	return tasks, nil
}

func (m *Mongo) GetTask(ctx context.Context, id string) (modal.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return modal.Task{}, errors.Wrapf(ErrMalformedID, "id %q", id)
	}
	return m.findOne(ctx, bson.D{{Key: "_id", Value: oid}}, id)
}

func (m *Mongo) GetTaskByTaskID(ctx context.Context, taskID string) (modal.Task, error) {
	return m.findOne(ctx, bson.D{{Key: FieldTaskID, Value: taskID}}, taskID)
}

func (m *Mongo) findOne(ctx context.Context, filter bson.D, key string) (modal.Task, error) {
	var d taskDoc
	if err := m.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return modal.Task{}, errors.Wrapf(ErrNotFound, "%s", key)
		}
		return modal.Task{}, errors.Wrap(err, "find task")
	}
	return d.task(), nil
}

func (m *Mongo) UpsertTask(ctx context.Context, taskID string, t modal.Task) (modal.Task, error) {
	if taskID == "" {
		return modal.Task{}, errors.WithStack(ErrMissingTaskID)
	}
	if err := m.ensureIndex(ctx); err != nil {
		return modal.Task{}, err
	}

	replacement := newTaskDoc(taskID, t)
	opts := options.FindOneAndReplace().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var d taskDoc
	err := m.coll.FindOneAndReplace(ctx, bson.D{{Key: FieldTaskID, Value: taskID}}, replacement, opts).Decode(&d)
	if err != nil {
		return modal.Task{}, errors.Wrapf(err, "upsert task_id %s", taskID)
	}
	return d.task(), nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (d taskDoc) task() modal.Task {
	return modal.Task{
		ID:          d.ID.Hex(),
		TaskID:      d.TaskID,
		CreatedAt:   fromBSONTimestamp(d.CreatedAt),
		CompletedAt: fromBSONTimestamp(d.CompletedAt),
		Status:      d.Status,
		Params:      plainValue(d.Params),
		Response:    plainValue(d.Response),
	}
}

func bsonTimestamp(ts *modal.Timestamp) any {
	if ts = nilIfZero(ts); ts == nil {
		return nil
	}
	if ts.Raw != "" {
		return ts.Raw
	}
	return ts.Time
}

func fromBSONTimestamp(v any) *modal.Timestamp {
	switch v := v.(type) {
	case primitive.DateTime:
		return modal.NewTimestamp(v.Time())
	case time.Time:
		return modal.NewTimestamp(v)
	case string:
		return modal.ParseTimestamp(v)
	case nil:
		return nil
	default:
		return &modal.Timestamp{Raw: fmt.Sprint(v)}
	}
}

// plainValue turns decoded BSON into the values encoding/json produces, so callers see
// the same shapes from every backend.
func plainValue(v any) any {
	switch v := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = plainValue(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = plainValue(e)
		}
		return out
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case primitive.DateTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return v.Hex()
	default:
		return v
	}
}
