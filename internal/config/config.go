package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/panokit/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the stitcher and its surfaces.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Stitch     Stitch     `json:"stitch"`
	Matcher    Matcher    `json:"matcher"`
	Stacks     Stacks     `json:"stacks"`
	Server     Server     `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs   int    `json:"parallel_jobs"`
	RemapWorkers   int    `json:"remap_workers"`
	TempDir        string `json:"temp_dir"`
	DecoderCache   int    `json:"decoder_cache"` // decoded source images kept in memory
	UseImageMagick bool   `json:"use_imagemagick"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // plain, text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Stitch holds defaults applied to projects that leave a setting unset.
type Stitch struct {
	Interpolator string `json:"interpolator"` // nearest, bilinear, cubic, lanczos
	FileType     string `json:"file_type"`    // TIFF, JPEG, PNG, HDR
	JPEGQuality  int    `json:"jpeg_quality"`
	Compression  string `json:"compression"`
	Blend        string `json:"blend"` // hardseam, seamorder, weighted
	ICCProfile   string `json:"icc_profile"`
}

// Matcher holds the interest point search parameters.
type Matcher struct {
	MaxWidth       int     `json:"max_width"`
	MinCell        int     `json:"min_cell"`
	MaxCells       int     `json:"max_cells"`
	Threshold      float64 `json:"threshold"`
	MatchesPerPair int     `json:"matches_per_pair"`
	TemplateRadius int     `json:"template_radius"`
	SearchRadius   int     `json:"search_radius"`
	ResidualLimit  float64 `json:"residual_limit"`
	Detector       string  `json:"detector"` // harris, opencv
}

// Stacks controls exposure stack detection.
type Stacks struct {
	EVTolerance float64 `json:"ev_tolerance"`
}

// Server configures the network surfaces.
type Server struct {
	HTTPAddr string `json:"http_addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	configPath := os.Getenv("PANOKIT_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads the configuration at path over the defaults. A missing
// file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			RemapWorkers: defaultParallel,
			TempDir:      os.TempDir(),
			DecoderCache: 8,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "plain",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "panokit.db"),
		},
		Stitch: Stitch{
			Interpolator: "cubic",
			FileType:     "TIFF",
			JPEGQuality:  90,
			Compression:  "LZW",
			Blend:        "seamorder",
		},
		Matcher: Matcher{
			MaxWidth:       1600,
			MinCell:        20,
			MaxCells:       25,
			Threshold:      0.9,
			MatchesPerPair: 2,
			TemplateRadius: 7,
			SearchRadius:   10,
			ResidualLimit:  5,
			Detector:       "harris",
		},
		Stacks: Stacks{EVTolerance: 0.3},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
