package clickup

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const missing = "N/A"

// Field is one labelled line of the task details view.
type Field struct {
	Label string
	Value string
}

// Summarize projects the display fields out of a raw task object. Absent
// or null values render as "N/A".
func Summarize(raw json.RawMessage) []Field {
	var task map[string]any
	if err := json.Unmarshal(raw, &task); err != nil {
		task = nil
	}
	return []Field{
		{"Task ID", text(task, "id")},
		{"Name", text(task, "name")},
		{"Text Content", text(task, "text_content")},
		{"Description", text(task, "description")},
		{"Status", text(task, "status", "status")},
		{"Date Created", date(task, "date_created")},
		{"Date Updated", date(task, "date_updated")},
		{"Date Done", text(task, "date_done")},
		{"Creator Name", text(task, "creator", "username")},
		{"Team ID", text(task, "team_id")},
		{"List ID", text(task, "list", "id")},
		{"List Name", text(task, "list", "name")},
		{"Project ID", text(task, "project", "id")},
		{"Project Name", text(task, "project", "name")},
		{"Folder ID", text(task, "folder", "id")},
		{"Folder Name", text(task, "folder", "name")},
		{"Space ID", text(task, "space", "id")},
		{"Space Name", text(task, "space", "name")},
	}
}

func lookup(obj map[string]any, path ...string) (any, bool) {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func text(obj map[string]any, path ...string) string {
	v, ok := lookup(obj, path...)
	if !ok {
		return missing
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return missing
		}
		return string(b)
	}
}

// date formats epoch milliseconds, which ClickUp sends as strings.
func date(obj map[string]any, key string) string {
	v, ok := lookup(obj, key)
	if !ok {
		return missing
	}
	var ms int64
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return missing
		}
		ms = n
	case float64:
		ms = int64(t)
	default:
		return missing
	}
	if ms == 0 {
		return missing
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05 MST")
}
