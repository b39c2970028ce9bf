package graphapi

import (
	"testing"
)

const sampleWorkflowJSON = `{
	"3": {
		"class_type": "KSampler",
		"inputs": {
			"seed": 42,
			"steps": 20,
			"model": ["4", 0]
		}
	},
	"4": {
		"class_type": "CheckpointLoaderSimple",
		"inputs": {
			"ckpt_name": "sd_xl_base_1.0.safetensors"
		},
		"options": {
			"title": "Load Checkpoint"
		}
	}
}`

func TestNewWorkflowFromJSON(t *testing.T) {
	w, err := NewWorkflowFromJSON([]byte(sampleWorkflowJSON))
	if err != nil {
		t.Fatalf("Failed to parse workflow: %v", err)
	}

	if len(w) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(w))
	}
	if w["3"].ClassType != "KSampler" {
		t.Errorf("Expected KSampler, got %s", w["3"].ClassType)
	}
	if w["4"].Options["title"] != "Load Checkpoint" {
		t.Errorf("Options not parsed: %v", w["4"].Options)
	}
}

func TestNewWorkflowFromJSONRejectsMissingClassType(t *testing.T) {
	_, err := NewWorkflowFromJSON([]byte(`{"1": {"inputs": {}}}`))
	if err == nil {
		t.Error("Expected error for node without class_type")
	}
}

func TestIsLink(t *testing.T) {
	w, err := NewWorkflowFromJSON([]byte(sampleWorkflowJSON))
	if err != nil {
		t.Fatalf("Failed to parse workflow: %v", err)
	}

	if !IsLink(w["3"].Inputs["model"]) {
		t.Error("model input should be a link")
	}
	if IsLink(w["3"].Inputs["seed"]) {
		t.Error("seed input should not be a link")
	}
	if IsLink(w["4"].Inputs["ckpt_name"]) {
		t.Error("ckpt_name input should not be a link")
	}
}

func TestCloneIsolation(t *testing.T) {
	w, err := NewWorkflowFromJSON([]byte(sampleWorkflowJSON))
	if err != nil {
		t.Fatalf("Failed to parse workflow: %v", err)
	}

	clone := w.Clone()
	clone["3"].Inputs["seed"] = float64(7)
	clone["3"].Inputs["model"].([]interface{})[0] = "99"
	clone["4"].Options = nil

	if w["3"].Inputs["seed"] != float64(42) {
		t.Errorf("Clone mutation leaked into template seed: %v", w["3"].Inputs["seed"])
	}
	if w["3"].Inputs["model"].([]interface{})[0] != "4" {
		t.Error("Clone mutation leaked into template link")
	}
	if w["4"].Options == nil {
		t.Error("Clone mutation leaked into template options")
	}
}
