package queue

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// Performance data based on GPU compute power and VRAM capacity.
// Values represent operations per second (higher is better).
// RTX 3090 used as baseline reference (600,000 ops/sec).
var defaultPerformanceData = map[string]map[string]float64{
	"Wan22-I2V-Lora-Lightning-API": {"3090": 566065, "5090": 1850000},
	"z_image_turbo-API":            {"3090": 800920, "5090": 1900000},
	"Wan22-Extend-24G-Q6-API":      {"3090": 500000, "5090": 1750000},
	"Flux2-IEdit-API":              {"5090": 270000},
	"Qwen-IEdit-API":               {"5090": 450000},
	// Performance estimates for various GPUs
	"Guesses": {
		// NVIDIA RTX 30 Series
		"3090":   600000, // Baseline reference
		"3090ti": 650000,
		"3080ti": 550000,
		"3080":   500000,
		"3070ti": 420000,
		"3070":   400000,
		"3060ti": 350000,
		"3060":   280000,
		// NVIDIA RTX 40 Series
		"4090":   1100000,
		"4080":   900000,
		"4070ti": 750000,
		"4070":   650000,
		"4060ti": 500000,
		"4060":   400000,
		// NVIDIA RTX 20 Series
		"2080ti":    350000,
		"2080super": 300000,
		"2080":      280000,
		"2070super": 250000,
		"2070":      230000,
		"2060super": 200000,
		"2060":      180000,
		// NVIDIA RTX 50 Series
		"5090": 1500000,
		"5080": 900000,
		"5070": 650000,
		"5060": 400000,
		// AMD Radeon GPUs (estimated from relative performance)
		"rx7900xtx": 700000,
		"rx7900xt":  650000,
		"rx7800xt":  550000,
		"rx6950xt":  500000,
		"rx6900xt":  480000,
		"rx6800xt":  450000,
		"rx6800":    420000,
		"rx6700xt":  380000,
		// Laptop GPUs (lower performance due to power limits)
		"3080laptop": 400000,
		"3070laptop": 320000,
		"4070laptop": 550000,
		"4060laptop": 350000,
	},
}

// gpuIdentifiers are the device-name tokens used as performance model
// keys, longest-match first where one is a prefix of another.
var gpuIdentifiers = []string{
	"3090ti", "3090", "3080laptop", "3080ti", "3080", "3070laptop", "3070ti", "3070", "3060ti", "3060",
	"4090", "4080", "4070laptop", "4070ti", "4070", "4060laptop", "4060ti", "4060",
	"2080ti", "2080super", "2080", "2070super", "2070", "2060super", "2060",
	"5090", "5080", "5070", "5060",
	"rx7900xtx", "rx7900xt", "rx7800xt", "rx6950xt", "rx6900xt", "rx6800xt", "rx6800", "rx6700xt",
}

// GPUFromDeviceString extracts a GPU identifier token from a free-text
// device description like "NVIDIA GeForce RTX 3090 : cudaMallocAsync".
func GPUFromDeviceString(device string) string {
	if device == "" {
		return "unknown"
	}
	lower := strings.ToLower(strings.ReplaceAll(device, " ", ""))
	for _, id := range gpuIdentifiers {
		if strings.Contains(lower, id) {
			return id
		}
	}
	return "unknown"
}

// PerformanceModel maps (workflow name, GPU identifier) to an observed
// throughput rate in ops/second. One instance is shared by every server
// queue so all servers train the same model; access is mutex-guarded
// since queues may tick from different goroutines.
type PerformanceModel struct {
	mu    sync.Mutex
	rates map[string]map[string]float64
}

// NewPerformanceModel returns a model seeded with the compiled-in
// defaults.
func NewPerformanceModel() *PerformanceModel {
	rates := make(map[string]map[string]float64, len(defaultPerformanceData))
	for workflow, gpus := range defaultPerformanceData {
		row := make(map[string]float64, len(gpus))
		for gpu, rate := range gpus {
			row[gpu] = rate
		}
		rates[workflow] = row
	}
	return &PerformanceModel{rates: rates}
}

// Rate returns the rate for a workflow and GPU, falling back through
// GPU-matching averages, workflow-matching averages, and the global
// average when no exact entry exists.
func (p *PerformanceModel) Rate(workflow, gpu string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.rates) == 0 {
		return 100000.0 // low-end default
	}

	if row, ok := p.rates[workflow]; ok {
		if rate, ok := row[gpu]; ok {
			return rate
		}
	}

	// workflow unknown: average every entry measured on this GPU
	sum, n := 0.0, 0
	for _, row := range p.rates {
		if rate, ok := row[gpu]; ok {
			sum += rate
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}

	// GPU unknown: average this workflow's entries across GPUs
	if row, ok := p.rates[workflow]; ok && len(row) > 0 {
		sum, n = 0.0, 0
		for _, rate := range row {
			sum += rate
			n++
		}
		return sum / float64(n)
	}

	// neither known: average everything
	sum, n = 0.0, 0
	for _, row := range p.rates {
		for _, rate := range row {
			sum += rate
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}

	return 1.0
}

// Observe feeds one completed iteration into the model. Existing
// entries move by a one-sided exponential moving average so a single
// outlier run cannot swing the estimate; the first observation for a
// (workflow, GPU) pair is stored directly.
func (p *PerformanceModel) Observe(workflow, gpu string, ops, elapsed float64) {
	if ops <= 0 || elapsed <= 0 {
		return
	}
	observed := ops / elapsed

	p.mu.Lock()
	defer p.mu.Unlock()

	row, ok := p.rates[workflow]
	if !ok {
		row = make(map[string]float64)
		p.rates[workflow] = row
	}
	if old, ok := row[gpu]; ok {
		row[gpu] = 0.9*old + 0.1*observed
	} else {
		row[gpu] = observed
	}
}

// Load merges a persisted rate file over the current table. A missing
// file is not an error.
func (p *PerformanceModel) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	loaded := map[string]map[string]float64{}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for workflow, row := range loaded {
		p.rates[workflow] = row
	}
	return nil
}

// Save writes the whole table to disk.
func (p *PerformanceModel) Save(path string) error {
	p.mu.Lock()
	data, err := json.MarshalIndent(p.rates, "", "    ")
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
