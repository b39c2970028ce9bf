package queue

import (
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/bowserlabs/bowsergen/client"
	"github.com/bowserlabs/bowsergen/graphapi"
)

// Uploader is the slice of the server connection a Job needs to push
// its input assets over before submission.
type Uploader interface {
	UploadFromPath(filePath string, name string, overwrite bool, filetype client.ImageType) (string, error)
}

// IterationResult records one iteration's execution of a job.
type IterationResult struct {
	StartTime      time.Time
	EndTime        time.Time
	ElapsedTime    float64
	Seed           int64
	OriginalPrompt string
	// SubmittedWorkflow is the exact snapshot sent to the server for
	// this iteration, kept for output metadata.
	SubmittedWorkflow graphapi.Workflow
	// InputImages/InputVideos map node id to the local path that was
	// uploaded (iteration 0 only).
	InputImages map[string]string
	InputVideos map[string]string
	OutputFiles []string
}

// Job is one user request to run a workflow Count times. The workflow
// field is an immutable template; each submission produces a fresh
// snapshot via WorkflowForSubmission.
type Job struct {
	WorkflowName string
	Workflow     graphapi.Workflow
	Count        int
	Completions  int
	// StartSeed is lazily assigned on first submission; iteration i
	// runs with seed StartSeed+i. -1 means not yet assigned.
	StartSeed        int64
	Ops              float64
	EstimatedRuntime float64 // seconds
	Error            bool
	Results          map[int]*IterationResult

	// server-assigned names of uploaded input assets, keyed by node id,
	// populated on iteration 0 and reused afterwards
	uploadedAssets map[string]string
}

// NewJob builds a job for the given workflow template and iteration count.
func NewJob(workflowName string, workflow graphapi.Workflow, count int) *Job {
	return &Job{
		WorkflowName:     workflowName,
		Workflow:         workflow,
		Count:            count,
		StartSeed:        -1,
		Ops:              graphapi.ComputeOps(workflow),
		EstimatedRuntime: 1.0,
		Results:          make(map[int]*IterationResult),
		uploadedAssets:   make(map[string]string),
	}
}

func (j *Job) IsCompleted() bool {
	return j.Completions >= j.Count
}

func (j *Job) AddCompletion() {
	j.Completions++
}

// ComputeEstimatedRuntime sets the runtime estimate from a measured
// throughput rate in ops/second.
func (j *Job) ComputeEstimatedRuntime(rate float64) {
	j.EstimatedRuntime = float64(j.Count) * j.Ops / rate
}

// RemainingEstimatedRuntime returns the estimate minus the time already
// spent, once the first iteration has started.
func (j *Job) RemainingEstimatedRuntime(now time.Time) float64 {
	if first, ok := j.Results[0]; ok && !first.StartTime.IsZero() {
		return j.EstimatedRuntime - now.Sub(first.StartTime).Seconds()
	}
	return j.EstimatedRuntime
}

// SetStartTime stamps the current iteration's execution start.
func (j *Job) SetStartTime(t time.Time) {
	if res, ok := j.Results[j.Completions]; ok {
		res.StartTime = t
	}
}

// SetEndTime stamps the current iteration's execution end and derives
// the elapsed time. When the start event never arrived the elapsed time
// stays zero so throughput tracking ignores the iteration.
func (j *Job) SetEndTime(t time.Time) {
	res, ok := j.Results[j.Completions]
	if !ok {
		return
	}
	res.EndTime = t
	if res.StartTime.IsZero() {
		return
	}
	res.ElapsedTime = math.Round(t.Sub(res.StartTime).Seconds()*100) / 100
}

// CurrentResult returns the in-progress iteration's record, or nil.
func (j *Job) CurrentResult() *IterationResult {
	return j.Results[j.Completions]
}

func (j *Job) ensureStartSeed() {
	if j.StartSeed == -1 {
		j.StartSeed = rand.Int63()
	}
}

// WorkflowForSubmission produces the snapshot to submit for the current
// iteration: the template is cloned, UI-only options are stripped,
// unassigned seeds are filled from the job seed, input assets are
// uploaded once and referenced by their server-side names, and prompt
// text has its <random:...> directives expanded deterministically.
// Calling it again for the same iteration replaces that iteration's
// record rather than duplicating it.
func (j *Job) WorkflowForSubmission(uploader Uploader) (graphapi.Workflow, error) {
	workflow := j.Workflow.Clone()

	res := &IterationResult{}
	j.Results[j.Completions] = res
	if j.Completions == 0 {
		res.InputImages = make(map[string]string)
		res.InputVideos = make(map[string]string)
	}

	for id, node := range workflow {
		// options entries never go over the wire
		node.Options = nil

		switch node.ClassType {
		case "SwarmInputInteger":
			// replace any seed inputs still at the -1 sentinel
			if node.InputString("view_type") == "seed" && isSentinelSeed(node.Inputs["value"]) {
				j.ensureStartSeed()
				node.Inputs["value"] = j.StartSeed + int64(j.Completions)
			}

		case "SwarmInputImage":
			// upload input images on the first iteration, after that
			// they are already on the server
			name, err := j.uploadAsset(uploader, id, node, "image")
			if err != nil {
				return nil, err
			}
			if j.Completions == 0 {
				res.InputImages[id] = node.InputString("image")
			}
			node.Inputs["image"] = name

		case "SwarmInputVideo":
			name, err := j.uploadAsset(uploader, id, node, "video")
			if err != nil {
				return nil, err
			}
			if j.Completions == 0 {
				res.InputVideos[id] = node.InputString("video")
			}
			node.Inputs["video"] = name

		case "SwarmInputText":
			if node.InputString("view_type") != "prompt" {
				break
			}
			original, ok := node.Inputs["value"].(string)
			if !ok {
				break
			}
			j.ensureStartSeed()
			expanded := graphapi.ExpandRandomSyntax(original, j.StartSeed+int64(j.Completions))
			if expanded != original {
				res.OriginalPrompt = original
			}
			node.Inputs["value"] = expanded
		}
	}

	res.Seed = j.StartSeed + int64(j.Completions)
	res.SubmittedWorkflow = workflow

	return workflow, nil
}

// uploadAsset sends a local input file to the server exactly once per
// job and returns the server-assigned name for it.
func (j *Job) uploadAsset(uploader Uploader, nodeID string, node *graphapi.WorkflowNode, field string) (string, error) {
	if name, ok := j.uploadedAssets[nodeID]; ok {
		return name, nil
	}

	localPath := node.InputString(field)
	ext := strings.TrimPrefix(filepath.Ext(localPath), ".")
	name, err := uploader.UploadFromPath(localPath, "dueser."+ext, false, client.InputImageType)
	if err != nil {
		return "", err
	}
	j.uploadedAssets[nodeID] = name
	return name, nil
}

func isSentinelSeed(v interface{}) bool {
	switch value := v.(type) {
	case float64:
		return value == -1
	case int:
		return value == -1
	case int64:
		return value == -1
	default:
		return false
	}
}
