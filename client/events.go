package client

import (
	"encoding/json"
)

// EventType identifies an asynchronous event pushed over the websocket.
type EventType string

const (
	EventStatus           EventType = "status"
	EventProgress         EventType = "progress"
	EventExecutionStart   EventType = "execution_start"
	EventExecutionSuccess EventType = "execution_success"
	EventExecutionError   EventType = "execution_error"
)

// Event is one decoded server push message, tagged with the submission
// it belongs to. Events for other clients' submissions still arrive on
// the shared channel; consumers match on PromptID and drop the rest.
type Event struct {
	Type           EventType
	PromptID       string
	QueueRemaining int
	Value          int
	Max            int
	Error          *ExecutionError
}

// ExecutionError carries the remote failure diagnostics from an
// execution_error message.
type ExecutionError struct {
	NodeID           string   `json:"node_id"`
	NodeType         string   `json:"node_type"`
	ExceptionType    string   `json:"exception_type"`
	ExceptionMessage string   `json:"exception_message"`
	Traceback        []string `json:"traceback"`
}

type WSStatusMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (sm *WSStatusMessage) UnmarshalJSON(b []byte) error {
	// Unmarshal into an anonymous type equivalent to WSStatusMessage
	// to avoid infinite recursion
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	sm.Type = temp.Type

	// Determine the type of Data and unmarshal it accordingly
	switch sm.Type {
	case "status":
		sm.Data = &WSMessageDataStatus{}
	case "execution_start":
		sm.Data = &WSMessageDataExecutionStart{}
	case "execution_success":
		sm.Data = &WSMessageDataExecutionSuccess{}
	case "progress":
		sm.Data = &WSMessageDataProgress{}
	case "execution_error":
		sm.Data = &WSMessageExecutionError{}
	default:
		// execution_cached, executing, executed, crystools.monitor and
		// friends are not consumed by the queue engine
		sm.Data = nil
	}

	if sm.Data != nil {
		if err := json.Unmarshal(temp.Data, sm.Data); err != nil {
			return err
		}
	}

	return nil
}

// ToEvent converts a decoded websocket message into a queue-consumable
// Event, or nil for message types the engine does not track.
func (sm *WSStatusMessage) ToEvent() *Event {
	switch data := sm.Data.(type) {
	case *WSMessageDataStatus:
		return &Event{
			Type:           EventStatus,
			QueueRemaining: data.Status.ExecInfo.QueueRemaining,
		}
	case *WSMessageDataExecutionStart:
		return &Event{Type: EventExecutionStart, PromptID: data.PromptID}
	case *WSMessageDataExecutionSuccess:
		return &Event{Type: EventExecutionSuccess, PromptID: data.PromptID}
	case *WSMessageDataProgress:
		return &Event{
			Type:     EventProgress,
			PromptID: data.PromptID,
			Value:    data.Value,
			Max:      data.Max,
		}
	case *WSMessageExecutionError:
		return &Event{
			Type:     EventExecutionError,
			PromptID: data.PromptID,
			Error: &ExecutionError{
				NodeID:           data.Node,
				NodeType:         data.NodeType,
				ExceptionType:    data.ExceptionType,
				ExceptionMessage: data.ExceptionMessage,
				Traceback:        data.Traceback,
			},
		}
	default:
		return nil
	}
}

/*
{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}
*/

type WSMessageDataStatus struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

/*
{"type": "execution_start", "data": {"prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

type WSMessageDataExecutionStart struct {
	PromptID string `json:"prompt_id"`
}

/*
{"type": "execution_success", "data": {"prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

type WSMessageDataExecutionSuccess struct {
	PromptID string `json:"prompt_id"`
}

/*
{"type": "progress", "data": {"value": 1, "max": 20, "prompt_id": "ed986d60-..."}}
*/

type WSMessageDataProgress struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
}

/*
{"type": "execution_error", "data": {"prompt_id": "...", "node_id": "19",
 "node_type": "SaveImage", "executed": ["5"], "exception_message": "...",
 "exception_type": "...", "traceback": ["..."]}}
*/

type WSMessageExecutionError struct {
	PromptID         string                 `json:"prompt_id"`
	Node             string                 `json:"node_id"`
	NodeType         string                 `json:"node_type"`
	Executed         []string               `json:"executed"`
	ExceptionMessage string                 `json:"exception_message"`
	ExceptionType    string                 `json:"exception_type"`
	Traceback        []string               `json:"traceback"`
	CurrentInputs    map[string]interface{} `json:"current_inputs"`
	CurrentOutputs   map[string]interface{} `json:"current_outputs"`
}
