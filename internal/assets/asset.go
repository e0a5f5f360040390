package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Key is the logical name an asset is cached under.
type Key string

const (
	KeyModel   Key = "model"
	KeyLabels  Key = "labels"
	KeyMeanStd Key = "mean_std"
)

// RootPath is the fixed URL path the asset endpoints live under.
const RootPath = "/onnx"

// Asset describes one downloadable artifact required for inference.
type Asset struct {
	Key      Key
	FileName string
	JSON     bool
}

// Path returns the fixed endpoint path of the asset.
func (a Asset) Path() string {
	return RootPath + "/" + a.FileName
}

// All lists every asset a pipeline run needs, in download order.
var All = []Asset{
	{Key: KeyModel, FileName: "model.onnx"},
	{Key: KeyLabels, FileName: "labels.json", JSON: true},
	{Key: KeyMeanStd, FileName: "mean_std.json", JSON: true},
}

// Lookup returns the asset definition for key.
func Lookup(key Key) (Asset, bool) {
	for _, a := range All {
		if a.Key == key {
			return a, true
		}
	}
	return Asset{}, false
}

// LookupFile returns the asset served under fileName.
func LookupFile(fileName string) (Asset, bool) {
	for _, a := range All {
		if a.FileName == fileName {
			return a, true
		}
	}
	return Asset{}, false
}

// Meta describes a stored asset.
type Meta struct {
	Size     int64     `json:"size"`
	Digest   string    `json:"digest"`
	StoredAt time.Time `json:"stored_at"`
}

// MeanStd holds per-channel normalization statistics in R,G,B order.
type MeanStd struct {
	Mean [3]float64
	Std  [3]float64
}

// ParseLabels decodes and validates labels.json: a non-empty array of
// non-empty strings, index-aligned to the model outputs.
func ParseLabels(data []byte) ([]string, error) {
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, errors.New("parse labels: empty label list")
	}
	for i, label := range labels {
		if strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("parse labels: empty label at index %d", i)
		}
	}
	return labels, nil
}

// ParseMeanStd decodes and validates mean_std.json.
func ParseMeanStd(data []byte) (MeanStd, error) {
	var raw struct {
		Mean []float64 `json:"mean"`
		Std  []float64 `json:"std"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return MeanStd{}, fmt.Errorf("parse mean_std: %w", err)
	}
	if len(raw.Mean) != 3 || len(raw.Std) != 3 {
		return MeanStd{}, fmt.Errorf("parse mean_std: want 3 means and 3 stds, got %d and %d", len(raw.Mean), len(raw.Std))
	}
	var ms MeanStd
	for c := 0; c < 3; c++ {
		if math.IsNaN(raw.Mean[c]) || math.IsInf(raw.Mean[c], 0) {
			return MeanStd{}, fmt.Errorf("parse mean_std: mean[%d] is not finite", c)
		}
		if !(raw.Std[c] > 0) || math.IsInf(raw.Std[c], 0) {
			return MeanStd{}, fmt.Errorf("parse mean_std: std[%d] must be positive and finite", c)
		}
		ms.Mean[c] = raw.Mean[c]
		ms.Std[c] = raw.Std[c]
	}
	return ms, nil
}

// Validate checks a downloaded body before it is persisted. Only the JSON
// assets have a checkable shape; the model is validated when loaded.
func Validate(a Asset, data []byte) error {
	switch a.Key {
	case KeyLabels:
		_, err := ParseLabels(data)
		return err
	case KeyMeanStd:
		_, err := ParseMeanStd(data)
		return err
	default:
		if len(data) == 0 {
			return errors.New("empty body")
		}
		return nil
	}
}
