package queue

import (
	"strings"
)

// OutputMetadata is the generation record written alongside every
// persisted output, embedded as a PNG text chunk for images and as a
// sidecar JSON file for videos.
type OutputMetadata struct {
	ImageParams map[string]interface{} `json:"sui_image_params"`
	ExtraData   map[string]interface{} `json:"sui_extra_data"`
	Bowser      BowserParams           `json:"bowser_params"`
}

type BowserParams struct {
	WorkflowName   string  `json:"workflow_name"`
	GenerationTime float64 `json:"generation_time"`
	Device         string  `json:"device"`
}

// buildOutputMetadata assembles the metadata for one finished iteration
// from the submitted workflow snapshot. Every exposed input contributes
// an entry keyed by its title, lower-cased with spaces stripped; image
// and video inputs record the local path that was uploaded rather than
// the server-side asset name.
func buildOutputMetadata(job *Job, iteration int, device string) *OutputMetadata {
	res := job.Results[iteration]
	if res == nil {
		res = &IterationResult{}
	}

	params := make(map[string]interface{})
	if res.SubmittedWorkflow != nil {
		first := job.Results[0]
		for id, node := range res.SubmittedWorkflow {
			if !strings.HasPrefix(node.ClassType, "SwarmInput") {
				continue
			}
			title := strings.ReplaceAll(strings.ToLower(node.InputString("title")), " ", "")
			if title == "" {
				continue
			}

			value, ok := node.Inputs["value"]
			switch node.ClassType {
			case "SwarmInputImage":
				if first != nil && first.InputImages[id] != "" {
					params[title] = first.InputImages[id]
					continue
				}
				value, ok = node.Inputs["image"]
			case "SwarmInputVideo":
				if first != nil && first.InputVideos[id] != "" {
					params[title] = first.InputVideos[id]
					continue
				}
				value, ok = node.Inputs["video"]
			}
			if ok {
				params[title] = value
			}
		}
	}
	params["generation_time"] = res.ElapsedTime

	extra := map[string]interface{}{
		"generation_time": res.ElapsedTime,
	}
	if res.OriginalPrompt != "" {
		extra["original_prompt"] = res.OriginalPrompt
	}

	return &OutputMetadata{
		ImageParams: params,
		ExtraData:   extra,
		Bowser: BowserParams{
			WorkflowName:   job.WorkflowName,
			GenerationTime: res.ElapsedTime,
			Device:         device,
		},
	}
}
