package queue

import (
	"reflect"
	"testing"
	"time"

	"github.com/bowserlabs/bowsergen/client"
	"github.com/bowserlabs/bowsergen/graphapi"
)

type fakeUploader struct {
	calls []string
}

func (f *fakeUploader) UploadFromPath(filePath string, name string, overwrite bool, filetype client.ImageType) (string, error) {
	f.calls = append(f.calls, filePath)
	return name, nil
}

func seedWorkflow() graphapi.Workflow {
	return graphapi.Workflow{
		"1": {
			ClassType: "SwarmInputInteger",
			Inputs: map[string]interface{}{
				"title": "Seed", "view_type": "seed", "value": float64(-1),
			},
			Options: map[string]interface{}{"advanced": true},
		},
		"2": {
			ClassType: "SwarmInputText",
			Inputs: map[string]interface{}{
				"title": "Prompt", "view_type": "prompt",
				"value": "a <random:cat,dog,bird> sitting",
			},
		},
	}
}

func TestSubmissionAssignsSequentialSeeds(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 3)
	uploader := &fakeUploader{}

	first, err := job.WorkflowForSubmission(uploader)
	if err != nil {
		t.Fatalf("Submission failed: %v", err)
	}
	if job.StartSeed < 0 {
		t.Fatalf("Start seed not assigned: %d", job.StartSeed)
	}
	if got := first["1"].Inputs["value"]; got != job.StartSeed {
		t.Errorf("Iteration 0 seed: expected %d, got %v", job.StartSeed, got)
	}

	job.AddCompletion()
	second, err := job.WorkflowForSubmission(uploader)
	if err != nil {
		t.Fatalf("Submission failed: %v", err)
	}
	if got := second["1"].Inputs["value"]; got != job.StartSeed+1 {
		t.Errorf("Iteration 1 seed: expected %d, got %v", job.StartSeed+1, got)
	}
}

func TestSubmissionDeterministicPerIteration(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 2)
	uploader := &fakeUploader{}

	first, err := job.WorkflowForSubmission(uploader)
	if err != nil {
		t.Fatalf("Submission failed: %v", err)
	}
	again, err := job.WorkflowForSubmission(uploader)
	if err != nil {
		t.Fatalf("Submission failed: %v", err)
	}

	if !reflect.DeepEqual(first["2"].Inputs["value"], again["2"].Inputs["value"]) {
		t.Errorf("Same iteration expanded differently: %v vs %v",
			first["2"].Inputs["value"], again["2"].Inputs["value"])
	}
	if first["1"].Inputs["value"] != again["1"].Inputs["value"] {
		t.Error("Same iteration injected different seeds")
	}
	if len(job.Results) != 1 {
		t.Errorf("Repeated submission should replace the record, got %d records", len(job.Results))
	}
}

func TestSubmissionStripsOptions(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 1)
	snapshot, err := job.WorkflowForSubmission(&fakeUploader{})
	if err != nil {
		t.Fatalf("Submission failed: %v", err)
	}
	if snapshot["1"].Options != nil {
		t.Error("Options should be stripped from the submitted snapshot")
	}
}

func TestSubmissionLeavesTemplateUntouched(t *testing.T) {
	template := seedWorkflow()
	job := NewJob("test", template, 1)
	if _, err := job.WorkflowForSubmission(&fakeUploader{}); err != nil {
		t.Fatalf("Submission failed: %v", err)
	}

	if template["1"].Inputs["value"] != float64(-1) {
		t.Errorf("Template seed mutated: %v", template["1"].Inputs["value"])
	}
	if template["2"].Inputs["value"] != "a <random:cat,dog,bird> sitting" {
		t.Errorf("Template prompt mutated: %v", template["2"].Inputs["value"])
	}
	if template["1"].Options == nil {
		t.Error("Template options stripped")
	}
}

func TestSubmissionRecordsOriginalPrompt(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 1)
	if _, err := job.WorkflowForSubmission(&fakeUploader{}); err != nil {
		t.Fatalf("Submission failed: %v", err)
	}

	res := job.CurrentResult()
	if res == nil {
		t.Fatal("No iteration record created")
	}
	if res.OriginalPrompt != "a <random:cat,dog,bird> sitting" {
		t.Errorf("Original prompt not recorded: %q", res.OriginalPrompt)
	}
	if res.Seed != job.StartSeed {
		t.Errorf("Record seed %d, expected %d", res.Seed, job.StartSeed)
	}
	if res.SubmittedWorkflow == nil {
		t.Error("Submitted snapshot not recorded")
	}
}

func TestSubmissionUploadsAssetsOnce(t *testing.T) {
	workflow := graphapi.Workflow{
		"1": {
			ClassType: "SwarmInputImage",
			Inputs: map[string]interface{}{
				"title": "Init Image", "image": "/tmp/source.png",
			},
		},
	}
	job := NewJob("test", workflow, 2)
	uploader := &fakeUploader{}

	first, err := job.WorkflowForSubmission(uploader)
	if err != nil {
		t.Fatalf("Submission failed: %v", err)
	}
	job.AddCompletion()
	second, err := job.WorkflowForSubmission(uploader)
	if err != nil {
		t.Fatalf("Submission failed: %v", err)
	}

	if len(uploader.calls) != 1 {
		t.Errorf("Asset should upload exactly once, got %d uploads", len(uploader.calls))
	}
	if first["1"].Inputs["image"] != "dueser.png" {
		t.Errorf("Server asset name not injected: %v", first["1"].Inputs["image"])
	}
	if second["1"].Inputs["image"] != "dueser.png" {
		t.Errorf("Cached asset name not reused: %v", second["1"].Inputs["image"])
	}
	if job.Results[0].InputImages["1"] != "/tmp/source.png" {
		t.Errorf("Local path not recorded: %v", job.Results[0].InputImages)
	}
}

func TestCompletionBounds(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 2)
	if job.IsCompleted() {
		t.Error("New job should not be completed")
	}
	job.AddCompletion()
	if job.IsCompleted() {
		t.Error("Job with 1/2 completions should not be completed")
	}
	job.AddCompletion()
	if !job.IsCompleted() {
		t.Error("Job with 2/2 completions should be completed")
	}
}

func TestRemainingEstimatedRuntime(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 1)
	job.EstimatedRuntime = 100.0

	now := time.Now()
	if got := job.RemainingEstimatedRuntime(now); got != 100.0 {
		t.Errorf("Unstarted job should report full estimate, got %v", got)
	}

	if _, err := job.WorkflowForSubmission(&fakeUploader{}); err != nil {
		t.Fatalf("Submission failed: %v", err)
	}
	job.SetStartTime(now.Add(-30 * time.Second))

	got := job.RemainingEstimatedRuntime(now)
	if got < 69.9 || got > 70.1 {
		t.Errorf("Expected ~70s remaining, got %v", got)
	}
}

func TestElapsedTimeRounding(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 1)
	if _, err := job.WorkflowForSubmission(&fakeUploader{}); err != nil {
		t.Fatalf("Submission failed: %v", err)
	}

	start := time.Now()
	job.SetStartTime(start)
	job.SetEndTime(start.Add(12345 * time.Millisecond))

	if got := job.CurrentResult().ElapsedTime; got != 12.35 {
		t.Errorf("Expected elapsed 12.35, got %v", got)
	}
}

func TestEndTimeWithoutStartLeavesElapsedZero(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 1)
	if _, err := job.WorkflowForSubmission(&fakeUploader{}); err != nil {
		t.Fatalf("Submission failed: %v", err)
	}

	// the start event can be lost on a flaky connection; the elapsed
	// time must not be derived from the zero start stamp
	end := time.Now()
	job.SetEndTime(end)

	res := job.CurrentResult()
	if res.EndTime != end {
		t.Errorf("End time not recorded: %v", res.EndTime)
	}
	if res.ElapsedTime != 0 {
		t.Errorf("Elapsed time should stay zero without a start, got %v", res.ElapsedTime)
	}
}

func TestComputeEstimatedRuntime(t *testing.T) {
	job := NewJob("test", seedWorkflow(), 4)
	job.Ops = 1000000
	job.ComputeEstimatedRuntime(500000)
	if job.EstimatedRuntime != 8.0 {
		t.Errorf("Expected 8s estimate, got %v", job.EstimatedRuntime)
	}
}
