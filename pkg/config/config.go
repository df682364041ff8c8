// Package config provides configuration loading and management for aslcluster.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"

	"aslcluster/pkg/cluster"
	"aslcluster/pkg/smoothing"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Cluster-correction parameters
	Cluster struct {
		// TCrit is the voxelwise cluster-forming threshold. It is ignored
		// when VoxelP is set.
		TCrit float64 `yaml:"tcrit"`

		// VoxelP, when positive, derives TCrit as the one-sided quantile
		// 1-VoxelP of the statistic's distribution
		VoxelP float64 `yaml:"voxelP"`

		// DOF selects a Student's t distribution with that many degrees of
		// freedom for VoxelP; zero uses the standard normal
		DOF float64 `yaml:"dof"`

		// Permutations is the number of null realisations
		Permutations int `yaml:"permutations"`

		// SigmaMM is the smoothing bandwidth of the null fields in mm
		SigmaMM float64 `yaml:"sigmaMM"`

		// Alpha is the FDR significance level
		Alpha float64 `yaml:"alpha"`

		// Seed seeds the null distribution; zero picks a time-based seed
		Seed uint64 `yaml:"seed"`
	} `yaml:"cluster"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// Timeout bounds the permutation stage; zero means no limit
		Timeout time.Duration `yaml:"timeout"`

		// SmoothingTruncate is the kernel half-width in standard deviations
		SmoothingTruncate float64 `yaml:"smoothingTruncate"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveThresholded writes the thresholded statistic next to the mask
		SaveThresholded bool `yaml:"saveThresholded"`

		// PreviewDir, when set, receives PNG slices of the retained mask
		PreviewDir string `yaml:"previewDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default cluster parameters
	cfg.Cluster.TCrit = cluster.DefaultTCrit
	cfg.Cluster.Permutations = cluster.DefaultPermutations
	cfg.Cluster.SigmaMM = cluster.DefaultSigmaMM
	cfg.Cluster.Alpha = cluster.DefaultAlpha

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.SmoothingTruncate = smoothing.DefaultTruncate

	// Set default output parameters
	cfg.Output.SaveThresholded = true
	cfg.Output.Verbose = true

	return cfg
}

// ThresholdFromP returns the one-sided critical value for a voxelwise p-value.
// dof > 0 uses Student's t with dof degrees of freedom, otherwise the
// standard normal.
func ThresholdFromP(p, dof float64) (float64, error) {
	if !(p > 0 && p < 1) {
		return 0, &cluster.InvalidConfigurationError{Param: "voxelP", Value: p, Reason: "must be in (0, 1)"}
	}
	if dof < 0 || math.IsNaN(dof) {
		return 0, &cluster.InvalidConfigurationError{Param: "dof", Value: dof, Reason: "must not be negative"}
	}
	if dof > 0 {
		return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}.Quantile(1 - p), nil
	}
	return distuv.UnitNormal.Quantile(1 - p), nil
}

// ClusterParams converts the cluster section into validated engine parameters
func (c *Config) ClusterParams() (cluster.Params, error) {
	params := cluster.Params{
		TCrit:        c.Cluster.TCrit,
		Permutations: c.Cluster.Permutations,
		SigmaMM:      c.Cluster.SigmaMM,
		Alpha:        c.Cluster.Alpha,
	}
	if c.Cluster.VoxelP != 0 {
		tcrit, err := ThresholdFromP(c.Cluster.VoxelP, c.Cluster.DOF)
		if err != nil {
			return cluster.Params{}, err
		}
		params.TCrit = tcrit
	}
	if err := params.Validate(); err != nil {
		return cluster.Params{}, err
	}
	return params, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
