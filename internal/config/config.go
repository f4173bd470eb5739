// Package config loads inference run configuration from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds one inference run's parameters. Fields omitted from the JSON
// file keep their defaults, so partial configs are safe.
type Config struct {
	// TestSetName names the dataset and prefixes all output files.
	TestSetName string `json:"test_set_name"`

	// LoFrameSep is the low-resolution temporal neighbor separation.
	LoFrameSep int `json:"lo_frame_sep"`
	// HiFrameSep is the high-resolution separation; keyframe blocks span
	// 2*HiFrameSep indices.
	HiFrameSep int `json:"hi_frame_sep"`
	// B0 selects the beamline-zero variant of the data roots.
	B0 int `json:"b0"`

	// TemporalRank is the fixed number of LR frames per sample stack.
	TemporalRank int `json:"temporal_rank"`
	// CenterFrameIdx is the temporally central slice of each LR stack.
	CenterFrameIdx int `json:"center_frame_idx"`
	// MaxHiIndex is the largest valid high-resolution frame index. It is
	// configured independently of the LR sequence length and must never be
	// derived from it.
	MaxHiIndex int `json:"max_hi_index"`

	// RangeMin and RangeMax bound the clamp applied when rasterising.
	RangeMin float64 `json:"range_min"`
	RangeMax float64 `json:"range_max"`

	// Seed makes any stochastic engine behaviour reproducible; recorded
	// with the run.
	Seed int64 `json:"seed"`

	// DataRootLQ and DataRootGT locate the LR and HR frame directories.
	DataRootLQ string `json:"dataroot_lq"`
	DataRootGT string `json:"dataroot_gt"`
	// ImageDir optionally holds stand-in reference images for indices with
	// no ground truth.
	ImageDir string `json:"image_dir"`
	// AuxHQPath is the fixed auxiliary high-quality reference frame.
	AuxHQPath string `json:"aux_hq_path"`

	// ModelPath is the ONNX model file for the inference engine.
	ModelPath string `json:"model_path"`
	// OrtLibraryPath optionally points at the ONNX runtime shared library.
	OrtLibraryPath string `json:"ort_library_path"`

	// OutDir is the base directory under which the run directory is created.
	OutDir string `json:"out_dir"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		TestSetName:    "dataset1",
		LoFrameSep:     1,
		HiFrameSep:     1,
		TemporalRank:   5,
		CenterFrameIdx: 1,
		RangeMin:       0,
		RangeMax:       1,
		Seed:           10,
		OutDir:         "inf_data",
	}
}

// Load reads a JSON config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	if c.TestSetName == "" {
		return fmt.Errorf("test_set_name must be set")
	}
	if c.LoFrameSep < 1 {
		return fmt.Errorf("lo_frame_sep must be >= 1, got %d", c.LoFrameSep)
	}
	if c.HiFrameSep < 1 {
		return fmt.Errorf("hi_frame_sep must be >= 1, got %d", c.HiFrameSep)
	}
	if c.B0 != 0 && c.B0 != 1 {
		return fmt.Errorf("b0 must be 0 or 1, got %d", c.B0)
	}
	if c.TemporalRank < 1 {
		return fmt.Errorf("temporal_rank must be >= 1, got %d", c.TemporalRank)
	}
	if c.CenterFrameIdx < 0 || c.CenterFrameIdx >= c.TemporalRank {
		return fmt.Errorf("center_frame_idx %d outside stack of %d", c.CenterFrameIdx, c.TemporalRank)
	}
	if c.MaxHiIndex < 0 {
		return fmt.Errorf("max_hi_index must be >= 0, got %d", c.MaxHiIndex)
	}
	if c.RangeMax <= c.RangeMin {
		return fmt.Errorf("range_max %v must exceed range_min %v", c.RangeMax, c.RangeMin)
	}
	return nil
}

// RunName is the canonical run identifier used for the output directory:
// {testSet}_stf_lr_r_{loSep}_hr_d_{2*hiSep}_b0_{b0}.
func (c *Config) RunName() string {
	return fmt.Sprintf("%s_stf_lr_r_%d_hr_d_%d_b0_%d",
		c.TestSetName, c.LoFrameSep, 2*c.HiFrameSep, c.B0)
}

// RunDir is the output directory for this run.
func (c *Config) RunDir() string {
	return filepath.Join(c.OutDir, c.RunName())
}

// ReportFileName is the tabular report file written at the end of a run.
func (c *Config) ReportFileName() string {
	return fmt.Sprintf("error_%s.csv", c.RunName())
}

// LQRoot returns the low-resolution data root with the b0 variant suffix
// applied. A root whose final element is literally "LR" keeps that element
// and suffixes its parent instead.
func (c *Config) LQRoot() string {
	return b0Root(c.DataRootLQ, "lr", c.B0)
}

// GTRoot returns the high-resolution data root with the variant suffix
// applied. Ground-truth roots always use the b0=0 variant unless the final
// element is literally "HR", in which case the parent takes this run's b0.
func (c *Config) GTRoot() string {
	base := strings.ToLower(filepath.Base(c.DataRootGT))
	if base == "hr" {
		return b0Root(c.DataRootGT, "hr", c.B0)
	}
	return c.DataRootGT + "_b0_0"
}

func b0Root(root, leaf string, b0 int) string {
	suffix := fmt.Sprintf("_b0_%d", b0)
	base := strings.ToLower(filepath.Base(root))
	if base == leaf {
		return filepath.Join(filepath.Dir(root)+suffix, filepath.Base(root))
	}
	return root + suffix
}
