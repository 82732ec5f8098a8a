// Package view renders tasks and errors as HTML. Rendering has no side effects; every
// value passes through html/template escaping.
package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"scale-task-dashboard/internal/modal"
)

var pages = template.Must(template.New("base").Funcs(template.FuncMap{
	"ts":         formatTime,
	"pretty":     prettyJSON,
	"pathEscape": url.PathEscape,
}).Parse(pageTemplates))

// TaskGrid renders the index table, one row per task, linking to /<task_id> with the
// task_id path-escaped.
func TaskGrid(tasks []modal.Task) (string, error) {
	return execute("grid", tasks)
}

// TaskInfo renders the detail page for one task.
func TaskInfo(task modal.Task) (string, error) {
	return execute("info", task)
}

type errorData struct {
	Name    string
	Message string
	Stack   string
}

// ErrorPage renders err's name, message and stack trace.
func ErrorPage(err error) (string, error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	return execute("error", errorData{
		Name:    ErrorName(err),
		Message: err.Error(),
		Stack:   fmt.Sprintf("%+v", err),
	})
}

// ErrorName is the kind shown on the error page: the Name() of the first named error in
// the chain, else the type of the root cause.
func ErrorName(err error) string {
	var named interface{ Name() string }
	if errors.As(err, &named) {
		return named.Name()
	}
	name := fmt.Sprintf("%T", errors.Cause(err))
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "render %s", name)
	}
	return buf.String(), nil
}

func formatTime(t *modal.Timestamp) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.String()
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

const pageTemplates = `
{{define "grid"}}
<!doctype html>
<html>
  <head><meta charset="utf-8"/><title>Tasks</title></head>
  <body>
    <table>
      <thead>
        <tr>
          <th>task id</th>
          <th>created at</th>
          <th>completed at</th>
          <th>status</th>
          <th>actions</th>
        </tr>
      </thead>
      <tbody>
      {{range .}}
        <tr>
          <td>{{.TaskID}}</td>
          <td>{{ts .CreatedAt}}</td>
          <td>{{ts .CompletedAt}}</td>
          <td>{{.Status}}</td>
          <td><a href="/{{pathEscape .TaskID}}">View Details</a></td>
        </tr>
      {{end}}
      </tbody>
    </table>
  </body>
</html>
{{end}}

{{define "info"}}
<!doctype html>
<html>
  <head><meta charset="utf-8"/><title>Task {{.TaskID}}</title></head>
  <body>
    <table>
      <tbody>
        <tr><th><strong>id</strong></th><td>{{.TaskID}}</td></tr>
        <tr><th><strong>created</strong></th><td>{{ts .CreatedAt}}</td></tr>
        <tr><th><strong>completed</strong></th><td>{{ts .CompletedAt}}</td></tr>
        <tr><th><strong>status</strong></th><td>{{.Status}}</td></tr>
        {{with .Attachment}}<tr><th><strong>image</strong></th><td><img src="{{.}}" width="640" height="480"/></td></tr>{{end}}
        <tr><th><strong>response</strong></th><td><pre>{{pretty .Response}}</pre></td></tr>
      </tbody>
    </table>
  </body>
</html>
{{end}}

{{define "error"}}
<!doctype html>
<html>
  <head><meta charset="utf-8"/><title>{{.Name}}</title></head>
  <body>
    <h1>{{.Name}}</h1>
    <p>{{.Message}}</p>
    <pre>{{.Stack}}</pre>
  </body>
</html>
{{end}}
`
