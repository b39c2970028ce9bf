package graphapi

import (
	"regexp"
	"strconv"
	"strings"
)

// aspect ratio strings look like "1M  4:3 1152, 864" or "1024x768"
var aspectRe = regexp.MustCompile(`(\d+)\s*[xX,]\s*(\d+)`)

// ComputeOps estimates the per-iteration computational cost of a workflow.
// The unit is synthetic and only meaningful relative to other workflows
// measured on the same device. The scan walks the parameter-input nodes
// and pulls dimensions, step count, frame count and cfg scale out of the
// exposed inputs, falling back to permissive defaults.
func ComputeOps(w Workflow) float64 {
	width := 1000.0
	height := 1000.0
	steps := 10.0
	frames := 1.0
	cfg := 1.0

	haveWidth, haveHeight := false, false
	aspect := ""
	imgWidth, imgHeight := 0.0, 0.0

	for _, node := range w {
		if !strings.HasPrefix(node.ClassType, "SwarmInput") {
			continue
		}

		// image/video inputs carry their own dimensions, applied after
		// the scan so explicit width/height inputs always win
		if node.ClassType == "SwarmInputImage" || node.ClassType == "SwarmInputVideo" {
			if v, ok := asFloat(node.Inputs["input_width"]); ok {
				imgWidth = v
			}
			if v, ok := asFloat(node.Inputs["input_height"]); ok {
				imgHeight = v
			}
		}

		title := strings.ToLower(node.InputString("title"))
		value, ok := node.Inputs["value"]
		if !ok {
			continue
		}

		switch {
		case strings.Contains(title, "step"):
			if v, ok := asFloat(value); ok {
				steps = v
			}
		case strings.Contains(title, "width"):
			if v, ok := asFloat(value); ok {
				width = v
				haveWidth = true
			}
		case strings.Contains(title, "height"):
			if v, ok := asFloat(value); ok {
				height = v
				haveHeight = true
			}
		case strings.Contains(title, "aspect"), strings.Contains(title, "ratio"):
			if s, ok := value.(string); ok {
				aspect = s
			}
		case strings.Contains(title, "frame"):
			if v, ok := asFloat(value); ok {
				frames = v
			}
		case strings.Contains(title, "cfg"):
			if v, ok := asFloat(value); ok {
				cfg = v
			}
		}
	}

	// no explicit dimensions, try to pull them out of the aspect ratio label
	if (!haveWidth || !haveHeight) && aspect != "" {
		if m := aspectRe.FindStringSubmatch(aspect); m != nil {
			if !haveWidth {
				width, _ = asFloat(m[1])
				haveWidth = true
			}
			if !haveHeight {
				height, _ = asFloat(m[2])
				haveHeight = true
			}
		}
	}

	// image/video input dimensions are the last resort before defaults
	if !haveWidth && imgWidth > 0 {
		width = imgWidth
	}
	if !haveHeight && imgHeight > 0 {
		height = imgHeight
	}

	// at cfg 1.0 samplers evaluate once per step, above that they run
	// twice, but hybrid multi-sampler graphs may only apply cfg to one
	// stage, so the factor is capped at 1.6
	if cfg > 1.0 {
		cfg = 1.6
	}

	return width * height * steps * frames * cfg
}

func asFloat(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
