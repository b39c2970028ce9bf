package queue

import (
	"log/slog"
	"strings"

	"github.com/bowserlabs/bowsergen/graphapi"
)

// loaderInputFields maps model-loading node classes to the input fields
// that name a model file.
var loaderInputFields = map[string][]string{
	"CheckpointLoaderSimple": {"ckpt_name"},
	"CheckpointLoader":       {"ckpt_name"},
	"UNETLoader":             {"unet_name"},
	"UnetLoaderGGUF":         {"unet_name"},
	"UnetLoaderGGUFAdvanced": {"unet_name"},
	"CLIPLoader":             {"clip_name"},
	"CLIPLoaderGGUF":         {"clip_name"},
	"DualCLIPLoader":         {"clip_name1", "clip_name2"},
	"DualCLIPLoaderGGUF":     {"clip_name1", "clip_name2"},
	"TripleCLIPLoader":       {"clip_name1", "clip_name2", "clip_name3"},
	"VAELoader":              {"vae_name"},
	"LoraLoader":             {"lora_name"},
	"LoraLoaderModelOnly":    {"lora_name"},
	"ControlNetLoader":       {"control_net_name"},
	"UpscaleModelLoader":     {"model_name"},
}

// ggufQuantTokens in substitution preference order, best quality first.
var ggufQuantTokens = []string{
	"Q8_0", "Q6_K", "Q5_K_M", "Q5_K_S", "Q5_1", "Q5_0", "Q4_K_M", "Q4_K_S",
}

// ValidateModels checks every model-loading node in the workflow against
// the names available on the target server. When a referenced model is
// missing it tries to patch the node in place with the nearest available
// alternative; models with no viable substitute are returned as the
// missing list. Inputs that are graph links rather than literal names
// are skipped.
func ValidateModels(workflow graphapi.Workflow, available []string) []string {
	availableSet := make(map[string]bool, len(available))
	for _, name := range available {
		availableSet[name] = true
	}

	missing := make([]string, 0)
	for id, node := range workflow {
		fields, ok := loaderInputFields[node.ClassType]
		if !ok {
			continue
		}
		for _, field := range fields {
			value, ok := node.Inputs[field]
			if !ok || graphapi.IsLink(value) {
				continue
			}
			name, ok := value.(string)
			if !ok || name == "" {
				continue
			}
			if availableSet[name] {
				continue
			}

			if substitute := findSubstitute(name, available, availableSet); substitute != "" {
				slog.Info("Substituting missing model",
					"node", id, "requested", name, "substitute", substitute)
				node.Inputs[field] = substitute
				continue
			}
			missing = append(missing, name)
		}
	}
	return missing
}

func findSubstitute(name string, available []string, availableSet map[string]bool) string {
	// GGUF files usually differ only by quantization; try the other
	// quant levels in quality order
	if strings.HasSuffix(strings.ToLower(name), ".gguf") {
		if sub := substituteQuant(name, availableSet); sub != "" {
			return sub
		}
	}

	// fp16 weights are often mirrored as fp8 builds
	if strings.Contains(name, "fp16") {
		if candidate := strings.Replace(name, "fp16", "fp8", 1); availableSet[candidate] {
			return candidate
		}
	}

	// legacy checkpoint naming
	if strings.HasSuffix(name, ".safetensors") {
		if candidate := strings.TrimSuffix(name, ".safetensors") + ".ckpt"; availableSet[candidate] {
			return candidate
		}
	}

	// last resort: substring match on the base name before the first underscore
	base := name
	if i := strings.Index(base, "_"); i > 0 {
		base = base[:i]
	}
	for _, candidate := range available {
		if strings.Contains(candidate, base) {
			return candidate
		}
	}

	return ""
}

func substituteQuant(name string, availableSet map[string]bool) string {
	// swap the detected quant token for any other that exists
	for _, current := range ggufQuantTokens {
		if !strings.Contains(name, current) {
			continue
		}
		for _, replacement := range ggufQuantTokens {
			if replacement == current {
				continue
			}
			if candidate := strings.Replace(name, current, replacement, 1); availableSet[candidate] {
				return candidate
			}
		}
		return ""
	}

	// no quant token present; try appending one before the extension,
	// as spelled and fully upper-cased
	stem := strings.TrimSuffix(name, ".gguf")
	for _, token := range ggufQuantTokens {
		suffixes := []string{token}
		if upper := strings.ToUpper(token); upper != token {
			suffixes = append(suffixes, upper)
		}
		for _, suffix := range suffixes {
			if candidate := stem + "-" + suffix + ".gguf"; availableSet[candidate] {
				return candidate
			}
			if candidate := stem + "_" + suffix + ".gguf"; availableSet[candidate] {
				return candidate
			}
		}
	}
	return ""
}
