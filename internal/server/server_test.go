package server_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scale-task-dashboard/internal/activities"
	"scale-task-dashboard/internal/dispatch"
	"scale-task-dashboard/internal/modal"
	"scale-task-dashboard/internal/server"
	"scale-task-dashboard/internal/store"
	"scale-task-dashboard/internal/telemetry"
)

type fixture struct {
	handler    http.Handler
	store      store.Store
	auth       *server.CallbackAuth
	dispatcher *dispatch.Detached
	logs       *bytes.Buffer
}

func newFixture(t *testing.T, s store.Store, key string) *fixture {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := telemetry.NewLogger(logs, "debug")
	d := dispatch.NewDetached(activities.New(s, logger, nil, nil))
	auth := server.NewCallbackAuth(key)
	srv := server.New(server.Options{
		Store:      s,
		Dispatcher: d,
		Auth:       auth,
		Logger:     logger,
	})
	return &fixture{handler: srv.Routes(), store: s, auth: auth, dispatcher: d, logs: logs}
}

func (f *fixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func authHeader(key string) http.Header {
	h := http.Header{}
	h.Set(server.CallbackAuthHeader, key)
	return h
}

func TestCallbackThenGrid(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "")

	rec := f.do(http.MethodPost, "/", `{"task_id":"abc123","task":{"status":"done","completed_at":"2024-01-01T00:00:00Z"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Success!", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	f.dispatcher.Wait()

	rec = f.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<td>abc123</td>")
	assert.Contains(t, body, "<td>done</td>")
	assert.Contains(t, body, "<td>2024-01-01T00:00:00Z</td>")
}

func TestCallbackOnAnyPath(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "")

	for i, path := range []string{"/", "/callback", "/scale/hooks/v1"} {
		rec := f.do(http.MethodPost, path, fmt.Sprintf(`{"task_id":"t%d","task":{"status":"s"}}`, i), nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	f.dispatcher.Wait()

	tasks, err := f.store.ListTasks(context.Background(), store.Query{})
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestCallbackLastWriteWins(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "")

	for _, status := range []string{"pending", "in_progress", "completed"} {
		rec := f.do(http.MethodPost, "/", `{"task_id":"abc123","task":{"status":"`+status+`"}}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		f.dispatcher.Wait()
	}

	tasks, err := f.store.ListTasks(context.Background(), store.Query{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "completed", tasks[0].Status)
}

func TestCallbackAuth_RejectsMissingOrWrongKey(t *testing.T) {
	mem := store.NewMemory()
	_, err := mem.UpsertTask(context.Background(), "abc123", modal.Task{Status: "pending"})
	require.NoError(t, err)
	f := newFixture(t, mem, "s3cret")

	cases := map[string]http.Header{
		"missing": nil,
		"wrong":   authHeader("nope"),
		"prefix":  authHeader("s3cre"),
		"case":    authHeader("S3CRET"),
	}
	for name, h := range cases {
		rec := f.do(http.MethodPost, "/anything", `{"task_id":"abc123","task":{"status":"hacked"}}`, h)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, name)
		assert.Equal(t, "Callback auth key is incorrect. Invalid callback", rec.Body.String(), name)
	}
	f.dispatcher.Wait()

	got, err := mem.GetTaskByTaskID(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Status, "rejected callbacks must not touch the store")
	tasks, err := mem.ListTasks(context.Background(), store.Query{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestCallbackAuth_AcceptsMatchingKey(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "s3cret")

	rec := f.do(http.MethodPost, "/anything", `{"task_id":"abc123","task":{"status":"done"}}`, authHeader("s3cret"))
	assert.Equal(t, http.StatusOK, rec.Code)
	f.dispatcher.Wait()

	got, err := f.store.GetTaskByTaskID(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Status)
}

func TestCallbackAuth_KeyRotation(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "old")
	f.auth.SetKey("new")

	rec := f.do(http.MethodPost, "/", `{"task_id":"a","task":{}}`, authHeader("old"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	rec = f.do(http.MethodPost, "/", `{"task_id":"a","task":{}}`, authHeader("new"))
	assert.Equal(t, http.StatusOK, rec.Code)

	f.auth.SetKey("")
	assert.False(t, f.auth.Enabled())
	rec = f.do(http.MethodPost, "/", `{"task_id":"a","task":{}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.dispatcher.Wait()
}

func TestCallbackNoKeyConfigured_AnyHeaderAccepted(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "")

	rec := f.do(http.MethodPost, "/x", `{"task_id":"abc123","task":{"status":"done"}}`, authHeader("whatever"))
	assert.Equal(t, http.StatusOK, rec.Code)
	f.dispatcher.Wait()

	_, err := f.store.GetTaskByTaskID(context.Background(), "abc123")
	assert.NoError(t, err)
}

// blockingStore holds every upsert until release is closed.
type blockingStore struct {
	*store.Memory
	release chan struct{}
}

func (b *blockingStore) UpsertTask(ctx context.Context, taskID string, t modal.Task) (modal.Task, error) {
	<-b.release
	return b.Memory.UpsertTask(ctx, taskID, t)
}

func TestCallbackRespondsBeforePersisting(t *testing.T) {
	bs := &blockingStore{Memory: store.NewMemory(), release: make(chan struct{})}
	f := newFixture(t, bs, "")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.do(http.MethodPost, "/", `{"task_id":"slow","task":{"status":"done"}}`, nil)
	}()

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusOK, rec.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("callback response waited on the store")
	}
	_, err := bs.GetTaskByTaskID(context.Background(), "slow")
	assert.Error(t, err, "upsert must still be pending")

	close(bs.release)
	f.dispatcher.Wait()
	_, err = bs.GetTaskByTaskID(context.Background(), "slow")
	assert.NoError(t, err)
}

func TestCallbackPersistFailureDoesNotChangeResponse(t *testing.T) {
	f := newFixture(t, store.Unconfigured{}, "")

	rec := f.do(http.MethodPost, "/", `{"task_id":"abc123","task":{"status":"done"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.dispatcher.Wait()
	assert.Contains(t, f.logs.String(), "error updating task")
}

func TestCallbackBadBodiesAreLoggedOnly(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "")

	rec := f.do(http.MethodPost, "/", `{not json`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/", `{"task":{"status":"done"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.dispatcher.Wait()

	assert.Contains(t, f.logs.String(), "error decoding callback body")
	assert.Contains(t, f.logs.String(), "callback without task_id ignored")
	tasks, err := f.store.ListTasks(context.Background(), store.Query{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestIndexOrdersNewestFirst(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	for _, in := range []struct{ id, created string }{
		{"middle", "2024-02-01T00:00:00Z"},
		{"newest", "2024-03-01T00:00:00Z"},
		{"oldest", "2024-01-01T00:00:00Z"},
	} {
		_, err := mem.UpsertTask(ctx, in.id, modal.Task{CreatedAt: modal.ParseTimestamp(in.created)})
		require.NoError(t, err)
	}
	f := newFixture(t, mem, "")

	rec := f.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	newest := strings.Index(body, "<td>newest</td>")
	middle := strings.Index(body, "<td>middle</td>")
	oldest := strings.Index(body, "<td>oldest</td>")
	require.True(t, newest >= 0 && middle >= 0 && oldest >= 0)
	assert.Less(t, newest, middle)
	assert.Less(t, middle, oldest)
}

func TestIndexStoreFailureRendersErrorPage(t *testing.T) {
	f := newFixture(t, store.Unconfigured{}, "")

	rec := f.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>ConfigurationError</h1>")
}

func TestDetailByInternalID(t *testing.T) {
	mem := store.NewMemory()
	task, err := mem.UpsertTask(context.Background(), "abc123", modal.Task{
		Status:   "completed",
		Params:   map[string]any{"attachment": "https://example.com/img.png"},
		Response: map[string]any{"label": "cat"},
	})
	require.NoError(t, err)
	f := newFixture(t, mem, "")

	rec := f.do(http.MethodGet, "/"+task.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<td>abc123</td>")
	assert.Contains(t, body, "<td>completed</td>")
	assert.Contains(t, body, `src="https://example.com/img.png"`)
	assert.Contains(t, body, "&#34;label&#34;: &#34;cat&#34;")
}

func TestDetailByTaskIDFromGridLink(t *testing.T) {
	mem := store.NewMemory()
	_, err := mem.UpsertTask(context.Background(), "abc123", modal.Task{Status: "done"})
	require.NoError(t, err)
	f := newFixture(t, mem, "")

	rec := f.do(http.MethodGet, "/abc123", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<td>done</td>")
}

func TestDetailMissingRendersErrorPage(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "")

	rec := f.do(http.MethodGet, "/6f1c1a52-8f5e-4a3e-9d43-1f0f2d9b7c11", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>NotFoundError</h1>")

	rec = f.do(http.MethodGet, "/not-a-real-id", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>CastError</h1>")
}

type panicStore struct{ store.Unconfigured }

func (panicStore) ListTasks(context.Context, store.Query) ([]modal.Task, error) {
	panic("boom")
}

func TestPanicIsIsolatedToTheRequest(t *testing.T) {
	f := newFixture(t, panicStore{}, "")

	rec := f.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = f.do(http.MethodPost, "/", `{"task_id":"a","task":{}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.dispatcher.Wait()
}

func TestCallbackStoresLoosePayloads(t *testing.T) {
	f := newFixture(t, store.NewMemory(), "")

	bodies := map[string]string{
		"date-only":   `{"task_id":"date","task":{"status":"done","created_at":"2024-01-01"}}`,
		"free-text":   `{"task_id":"text","task":{"created_at":"yesterday"}}`,
		"epoch":       `{"task_id":"epoch","task":{"completed_at":1704067200}}`,
		"array-param": `{"task_id":"arr","task":{"params":["x"]}}`,
		"param-value": `{"task_id":"num","task":{"params":42}}`,
	}
	for name, body := range bodies {
		rec := f.do(http.MethodPost, "/", body, nil)
		require.Equal(t, http.StatusOK, rec.Code, name)
	}
	f.dispatcher.Wait()

	ctx := context.Background()
	date, err := f.store.GetTaskByTaskID(ctx, "date")
	require.NoError(t, err)
	require.NotNil(t, date.CreatedAt)
	assert.Equal(t, "2024-01-01T00:00:00Z", date.CreatedAt.String())

	text, err := f.store.GetTaskByTaskID(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, "yesterday", text.CreatedAt.Raw)

	epoch, err := f.store.GetTaskByTaskID(ctx, "epoch")
	require.NoError(t, err)
	assert.Equal(t, "1704067200", epoch.CompletedAt.Raw)

	arr, err := f.store.GetTaskByTaskID(ctx, "arr")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, arr.Params)
	assert.Empty(t, arr.Attachment())

	num, err := f.store.GetTaskByTaskID(ctx, "num")
	require.NoError(t, err)
	assert.Equal(t, float64(42), num.Params)

	rec := f.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<td>yesterday</td>")
}

func TestGridLinksReachDetailForAwkwardTaskIDs(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, mem, "")

	for taskID, link := range map[string]string{
		"a?b":   "/a%3Fb",
		"a#b":   "/a%23b",
		"a/b":   "/a%2Fb",
		"50%":   "/50%25",
		"a%41b": "/a%2541b",
	} {
		_, err := mem.UpsertTask(context.Background(), taskID, modal.Task{Status: "linked"})
		require.NoError(t, err)

		grid := f.do(http.MethodGet, "/", "", nil)
		require.Equal(t, http.StatusOK, grid.Code)
		require.Contains(t, grid.Body.String(), `<a href="`+link+`">View Details</a>`, taskID)

		rec := f.do(http.MethodGet, link, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, taskID)
		assert.Contains(t, rec.Body.String(), "<td>linked</td>", taskID)
	}
}
