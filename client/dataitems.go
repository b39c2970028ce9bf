package client

// DataOutput is one output file reference reported by the server for a
// node, fetched separately through the /view endpoint.
type DataOutput struct {
	Filename  string  `json:"filename"`
	Subfolder string  `json:"subfolder"`
	Type      string  `json:"type"`
	Format    string  `json:"format,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
}

// ResultKind discriminates fetched result payloads.
type ResultKind string

const (
	ImageResult ResultKind = "image"
	VideoResult ResultKind = "video"
)

// Result is a fully fetched output of one finished submission.
type Result struct {
	Data      []byte
	Filename  string
	Kind      ResultKind
	IsPreview bool
	Format    string
	FrameRate float64
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	ComfyUIVersion string `json:"comfyui_version"`
	RAMTotal       int64  `json:"ram_total"`
	RAMFree        int64  `json:"ram_free"`
	EmbeddedPython bool   `json:"embedded_python"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

type QueueExecInfo struct {
	ExecInfo struct {
		QueueRemaining int `json:"queue_remaining"`
	} `json:"exec_info"`
}

type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

type PromptErrorMessage struct {
	Error      PromptError   `json:"error"`
	NodeErrors []interface{} `json:"node_errors"`
}
