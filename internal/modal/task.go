package modal

// Task is the state the external processing service reports for one unit of work.
// ID is assigned by the store; TaskID is assigned by the external service and is the
// idempotency key for callbacks. Params and Response are opaque JSON values.
type Task struct {
	ID          string     `json:"id,omitempty"`
	TaskID      string     `json:"task_id"`
	CreatedAt   *Timestamp `json:"created_at,omitempty"`
	CompletedAt *Timestamp `json:"completed_at,omitempty"`
	Status      string     `json:"status,omitempty"`
	Params      any        `json:"params,omitempty"`
	Response    any        `json:"response,omitempty"`
}

// Attachment returns params.attachment when params is an object holding a string there.
func (t Task) Attachment() string {
	params, ok := t.Params.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := params["attachment"].(string)
	return s
}

// Callback is the body the external service POSTs when a task changes.
type Callback struct {
	TaskID string `json:"task_id"`
	Task   Task   `json:"task"`
}
