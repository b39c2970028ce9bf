package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bowserlabs/bowsergen/graphapi"
)

/*
@routes.get("/view")
@routes.get("/system_stats")
@routes.get("/prompt")
@routes.get("/object_info/{node_class}")
@routes.get("/history/{prompt_id}")
@routes.get("/models")
@routes.get("/models/{folder}")

@routes.post("/prompt")
@routes.post("/interrupt")
@routes.post("/history")
@routes.post("/upload/image")
*/

func (c *ComfyClient) getJSON(path string, out interface{}) error {
	resp, err := c.httpclient.Get(fmt.Sprintf("http://%s%s", c.serverBaseAddress, path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *ComfyClient) postJSON(path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpclient.Post(
		fmt.Sprintf("http://%s%s", c.serverBaseAddress, path),
		"application/json",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

type queuePromptResponse struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

// QueuePrompt submits a workflow snapshot for execution and returns the
// server-assigned prompt id.
func (c *ComfyClient) QueuePrompt(workflow graphapi.Workflow) (string, error) {
	if err := c.CheckConnection(); err != nil {
		return "", err
	}

	payload := map[string]interface{}{
		"prompt":    workflow,
		"client_id": c.clientid,
	}
	body, err := c.postJSON("/prompt", payload)
	if err != nil {
		return "", err
	}

	item := &queuePromptResponse{}
	if err := json.Unmarshal(body, item); err != nil || item.PromptID == "" {
		// the server reports rejections as a structured error body:
		// {"error": {"type": "prompt_no_outputs", "message": ...}, "node_errors": []}
		perror := &PromptErrorMessage{}
		if perr := json.Unmarshal(body, perror); perr == nil && perror.Error.Message != "" {
			return "", errors.New(perror.Error.Message)
		}
		return "", fmt.Errorf("unexpected prompt response: %s", string(body))
	}
	return item.PromptID, nil
}

// Interrupt asks the server to stop the given in-flight prompt.
func (c *ComfyClient) Interrupt(promptID string) error {
	_, err := c.postJSON("/interrupt", map[string]interface{}{
		"prompt_id": promptID,
		"client_id": c.clientid,
	})
	return err
}

// historyOutputs is the per-node output listing from /history/{id}.
type historyOutputs struct {
	Images []DataOutput `json:"images"`
	Gifs   []DataOutput `json:"gifs"`
}

type historyItem struct {
	Outputs map[string]historyOutputs `json:"outputs"`
}

// GetResults fetches the finished outputs of a prompt through the
// history and view endpoints. Temp outputs are only fetched when
// allowPreview is set.
func (c *ComfyClient) GetResults(promptID string, allowPreview bool) ([]Result, error) {
	history := map[string]historyItem{}
	if err := c.getJSON("/history/"+promptID, &history); err != nil {
		return nil, err
	}

	item, ok := history[promptID]
	if !ok {
		return nil, fmt.Errorf("prompt %s not in history", promptID)
	}

	results := make([]Result, 0)
	for _, nodeOutput := range item.Outputs {
		for _, image := range nodeOutput.Images {
			if image.Type != "output" && !(allowPreview && image.Type == "temp") {
				continue
			}
			data, err := c.GetView(image)
			if err != nil {
				return nil, err
			}
			results = append(results, Result{
				Data:      data,
				Filename:  image.Filename,
				Kind:      ImageResult,
				IsPreview: image.Type == "temp",
			})
		}
		// video outputs arrive under "gifs" from the video combine nodes
		for _, video := range nodeOutput.Gifs {
			if video.Type != "output" && !(allowPreview && video.Type == "temp") {
				continue
			}
			data, err := c.GetView(video)
			if err != nil {
				return nil, err
			}
			results = append(results, Result{
				Data:      data,
				Filename:  video.Filename,
				Kind:      VideoResult,
				IsPreview: video.Type == "temp",
				Format:    video.Format,
				FrameRate: video.FrameRate,
			})
		}
	}
	return results, nil
}

// GetView downloads one output file's bytes.
func (c *ComfyClient) GetView(output DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", output.Filename)
	params.Add("subfolder", output.Subfolder)
	params.Add("type", output.Type)
	resp, err := c.httpclient.Get(fmt.Sprintf("http://%s/view?%s", c.serverBaseAddress, params.Encode()))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view %s: %s", output.Filename, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (c *ComfyClient) GetSystemStats() (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON("/system_stats", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// CurrentDeviceName returns the name of the server's first compute
// device, or "unknown" when stats are unavailable.
func (c *ComfyClient) CurrentDeviceName() string {
	stats, err := c.GetSystemStats()
	if err != nil || len(stats.Devices) == 0 {
		return "unknown"
	}
	return stats.Devices[0].Name
}

// GetAvailableModels lists every model file the server knows about,
// across all model subdirectories.
func (c *ComfyClient) GetAvailableModels() ([]string, error) {
	subdirs := make([]string, 0)
	if err := c.getJSON("/models", &subdirs); err != nil {
		return nil, err
	}

	results := make([]string, 0)
	for _, subdir := range subdirs {
		names := make([]string, 0)
		if err := c.getJSON("/models/"+subdir, &names); err != nil {
			return nil, err
		}
		results = append(results, names...)
	}
	return results, nil
}

// GetAvailableLoras lists the LoRA models installed on the server.
func (c *ComfyClient) GetAvailableLoras() ([]string, error) {
	retv := make([]string, 0)
	if err := c.getJSON("/models/loras", &retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetObjectInfo retrieves the schema of a single node class.
func (c *ComfyClient) GetObjectInfo(classType string) (json.RawMessage, error) {
	var retv map[string]json.RawMessage
	if err := c.getJSON("/object_info/"+url.PathEscape(classType), &retv); err != nil {
		return nil, err
	}
	schema, ok := retv[classType]
	if !ok {
		return nil, fmt.Errorf("no object info for %s", classType)
	}
	return schema, nil
}

func (c *ComfyClient) GetQueueExecutionInfo() (*QueueExecInfo, error) {
	retv := &QueueExecInfo{}
	if err := c.getJSON("/prompt", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// EraseHistory clears the server-side prompt history.
func (c *ComfyClient) EraseHistory() error {
	_, err := c.postJSON("/history", map[string]string{"clear": "clear"})
	return err
}

// EraseHistoryItem removes a single prompt from the server-side history.
func (c *ComfyClient) EraseHistoryItem(promptID string) error {
	_, err := c.postJSON("/history", map[string][]string{"delete": {promptID}})
	return err
}
