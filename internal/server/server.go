// Package server is the dashboard's HTTP surface: the task grid, the task detail page and
// the callback receiver.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"scale-task-dashboard/internal/dispatch"
	"scale-task-dashboard/internal/modal"
	"scale-task-dashboard/internal/otel"
	"scale-task-dashboard/internal/store"
	"scale-task-dashboard/internal/view"
)

const defaultMaxBodyBytes = 1 << 20

type Options struct {
	Store        store.Store
	Dispatcher   dispatch.Dispatcher
	Auth         *CallbackAuth
	Logger       *slog.Logger
	Metrics      *otel.Metrics
	MaxBodyBytes int64
}

type Server struct {
	store      store.Store
	dispatcher dispatch.Dispatcher
	auth       *CallbackAuth
	logger     *slog.Logger
	metrics    *otel.Metrics
	maxBody    int64
}

func New(opts Options) *Server {
	s := &Server{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		auth:       opts.Auth,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		maxBody:    opts.MaxBodyBytes,
	}
	if s.auth == nil {
		s.auth = NewCallbackAuth("")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	return s
}

// Routes returns the dashboard router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/{taskid}", s.handleDetail)

	// Callbacks may be configured against any path.
	r.Post("/", s.handleCallback)
	r.Post("/*", s.handleCallback)
	return r
}

// handleIndex lists every task, newest first.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), store.GridQuery)
	if err != nil {
		s.renderError(w, err)
		return
	}
	html, err := view.TaskGrid(tasks)
	if err != nil {
		s.renderError(w, err)
		return
	}
	writeHTML(w, http.StatusOK, html)
}

// handleDetail shows one task. A task that cannot be found is rendered as an error page
// with status 500, like every other store failure.
func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	task, err := s.lookupTask(r.Context(), taskParam(r))
	if err != nil {
		s.renderError(w, err)
		return
	}
	html, err := view.TaskInfo(task)
	if err != nil {
		s.renderError(w, err)
		return
	}
	writeHTML(w, http.StatusOK, html)
}

// taskParam is the {taskid} segment. chi routes on the escaped path when it differs from
// the decoded one (an escaped "/"), so the segment is decoded here in that case only.
func taskParam(r *http.Request) string {
	id := chi.URLParam(r, "taskid")
	if r.URL.RawPath == "" {
		return id
	}
	if decoded, err := url.PathUnescape(id); err == nil {
		return decoded
	}
	return id
}

// lookupTask resolves id as an internal identifier, falling back to task_id because the
// grid links by task_id. The internal-id error wins when neither matches.
func (s *Server) lookupTask(ctx context.Context, id string) (modal.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err == nil {
		return task, nil
	}
	if errors.Is(err, store.ErrMalformedID) || errors.Is(err, store.ErrNotFound) {
		if byTaskID, lookupErr := s.store.GetTaskByTaskID(ctx, id); lookupErr == nil {
			return byTaskID, nil
		}
	}
	return modal.Task{}, err
}

func (s *Server) renderError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	html, renderErr := view.ErrorPage(err)
	if renderErr != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeHTML(w, http.StatusInternalServerError, html)
}

func writeHTML(w http.ResponseWriter, status int, html string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(html))
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}
