package events

import (
	"encoding/json"
	"math"
	"strconv"
)

// Correlation field aliases. The server is inconsistent about which id field
// a payload carries, so readers go through these accessors instead of
// touching the map directly.
const (
	FieldAppRunID   = "app_run_id"
	FieldRunID      = "run_id"
	FieldWorkflowID = "workflow_id"
	FieldAppID      = "app_id"
	FieldExecID     = "exec_id"
	FieldNodeExecID = "node_exec_id"
	FieldRecordID   = "record_id"
	FieldStatus     = "status"
	FieldError      = "error"
	FieldOutputs    = "outputs"
	FieldExecData   = "exec_data"
)

// Normalized node status names. Numeric wire codes map onto these.
const (
	NodeNotRunnable = "not_runnable"
	NodeRunnable    = "runnable"
	NodeRunning     = "running"
	NodeSucceeded   = "succeeded"
	NodeFailed      = "failed"
)

var nodeStatusCodes = map[int]string{
	0: NodeNotRunnable,
	1: NodeRunnable,
	2: NodeRunning,
	3: NodeSucceeded,
	4: NodeFailed,
}

// Field returns the payload value under key rendered as a canonical string.
// JSON numbers, native ints and bools all normalize to the same text, so a
// correlation key built from an int compares equal to the float64 the JSON
// decoder produced.
func (p Payload) Field(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}

	return NormalizeScalar(v)
}

// String returns the value under key if it is a plain string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)

	return s
}

// Int returns the value under key coerced to an int.
func (p Payload) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}

		return int(n), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}

// Map returns the value under key if it is an object.
func (p Payload) Map(key string) (map[string]any, bool) {
	m, ok := p[key].(map[string]any)

	return m, ok
}

// RunID returns the run identifier, preferring app_run_id over run_id.
func (p Payload) RunID() string {
	if id, ok := p.Field(FieldAppRunID); ok {
		return id
	}

	id, _ := p.Field(FieldRunID)

	return id
}

// StatusCode returns the payload's wire status code.
func (p Payload) StatusCode() (int, bool) {
	return p.Int(FieldStatus)
}

// ErrorText returns the server-supplied error string, if any.
func (p Payload) ErrorText() string {
	return p.String(FieldError)
}

// NormalizeScalar renders a scalar payload value as canonical text. Returns
// false for objects, arrays and other non-scalar values.
func NormalizeScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), true
		}

		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// NodeStatusName normalizes a node status value, which arrives either as a
// numeric wire code or as the status name itself. Unknown values return "".
func NodeStatusName(v any) string {
	switch t := v.(type) {
	case string:
		switch t {
		case NodeNotRunnable, NodeRunnable, NodeRunning, NodeSucceeded, NodeFailed:
			return t
		}

		if n, err := strconv.Atoi(t); err == nil {
			return nodeStatusCodes[n]
		}

		return ""
	default:
		if n, ok := (Payload{"v": v}).Int("v"); ok {
			return nodeStatusCodes[n]
		}

		return ""
	}
}
