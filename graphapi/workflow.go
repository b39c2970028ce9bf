package graphapi

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WorkflowNode is a single node in an API-format workflow graph.
// Inputs values can be one of:
//
//	float64
//	string
//	bool
//	[]interface{} where: [0] is string id of the source node
//	                     [1] is float64 (int) of the output slot index
//
// Options carries UI-only annotations that must never be submitted to
// the server.
type WorkflowNode struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// Workflow is an API-format workflow graph, keyed by node id.
type Workflow map[string]*WorkflowNode

// IsLink reports whether an input value is a reference to another node's
// output rather than a literal value.
func IsLink(v interface{}) bool {
	arr, ok := v.([]interface{})
	return ok && len(arr) == 2
}

// NewWorkflowFromJSON creates a Workflow from raw JSON data.
func NewWorkflowFromJSON(data []byte) (Workflow, error) {
	w := Workflow{}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	for id, node := range w {
		if node == nil || node.ClassType == "" {
			return nil, fmt.Errorf("node %s has no class_type", id)
		}
	}
	return w, nil
}

// NewWorkflowFromReader creates a Workflow from the data read from an io.Reader.
func NewWorkflowFromReader(r io.Reader) (Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewWorkflowFromJSON(data)
}

// NewWorkflowFromFile creates a Workflow from a JSON file.
func NewWorkflowFromFile(path string) (Workflow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return NewWorkflowFromReader(file)
}

// Clone returns a deep copy of the workflow. Submission-time rewrites
// operate on a clone so the template is never mutated.
func (w Workflow) Clone() Workflow {
	retv := make(Workflow, len(w))
	for id, node := range w {
		retv[id] = &WorkflowNode{
			ClassType: node.ClassType,
			Inputs:    deepCopyMap(node.Inputs),
			Options:   deepCopyMap(node.Options),
		}
	}
	return retv
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	retv := make(map[string]interface{}, len(m))
	for k, v := range m {
		retv[k] = deepCopyValue(v)
	}
	return retv
}

func deepCopyValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(value)
	case []interface{}:
		arr := make([]interface{}, len(value))
		for i, e := range value {
			arr[i] = deepCopyValue(e)
		}
		return arr
	default:
		return value
	}
}

// InputString returns a string input value, or "" if absent or a link.
func (n *WorkflowNode) InputString(name string) string {
	v, ok := n.Inputs[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
