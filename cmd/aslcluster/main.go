package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"aslcluster/internal/models"
	"aslcluster/pkg/cluster"
	"aslcluster/pkg/config"
	"aslcluster/pkg/niftiio"
	"aslcluster/pkg/permutation"
	"aslcluster/pkg/summary"
	"aslcluster/pkg/visualization"
)

// stringList collects the values of a repeatable flag
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func main() {
	// Parse command line arguments
	var masks stringList
	flag.Var(&masks, "mask", "Binary mask (.nii or .nii.gz) to summarise subjects in; may be repeated")
	input := flag.String("input", "", "NIfTI t-statistic volume (.nii or .nii.gz)")
	output := flag.String("output", "", "Output prefix (default: input path without extension)")
	configPath := flag.String("config", "aslcluster.yaml", "YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	tcrit := flag.Float64("tcrit", cluster.DefaultTCrit, "Voxelwise cluster-forming threshold")
	perms := flag.Int("perms", cluster.DefaultPermutations, "Number of null permutations")
	sigma := flag.Float64("sigma", cluster.DefaultSigmaMM, "Smoothing bandwidth of the null fields in mm")
	alpha := flag.Float64("alpha", cluster.DefaultAlpha, "FDR significance level")
	seed := flag.Uint64("seed", 0, "Random seed (0: time-based)")
	cores := flag.Int("cores", 0, "Number of CPU cores to use (default: from config)")
	timeout := flag.Duration("timeout", 0, "Abort the permutation stage after this long (0: no limit)")
	preview := flag.String("preview", "", "Directory for PNG slices of the retained mask")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-input tstat.nii.gz] [-mask mask.nii.gz ...] [flags] [subject.nii.gz ...]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Subjects listed after the flags are summarised inside each surviving cluster")
		fmt.Fprintln(flag.CommandLine.Output(), "and inside the positive voxels of every -mask.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Infof("Default configuration written to %s", *configPath)
		return
	}

	// Validate inputs
	if *input == "" && len(masks) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Explicit flags take precedence over the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tcrit":
			cfg.Cluster.TCrit = *tcrit
			cfg.Cluster.VoxelP = 0
		case "perms":
			cfg.Cluster.Permutations = *perms
		case "sigma":
			cfg.Cluster.SigmaMM = *sigma
		case "alpha":
			cfg.Cluster.Alpha = *alpha
		case "seed":
			cfg.Cluster.Seed = *seed
		case "cores":
			cfg.Processing.NumCores = *cores
		case "timeout":
			cfg.Processing.Timeout = *timeout
		case "preview":
			cfg.Output.PreviewDir = *preview
		}
	})

	if cfg.Output.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	params, err := cfg.ClusterParams()
	if err != nil {
		log.Fatalf("Invalid parameters: %v", err)
	}

	if *input != "" {
		prefix := *output
		if prefix == "" {
			prefix = trimNiftiExt(*input)
		}

		if err := run(cfg, params, *input, prefix, flag.Args()); err != nil {
			log.Fatalf("Cluster correction failed: %v", err)
		}
	}

	if len(masks) > 0 {
		if err := summarizeMasks(masks, flag.Args()); err != nil {
			log.Fatalf("Mask summary failed: %v", err)
		}
	}
}

func run(cfg *config.Config, params cluster.Params, input, prefix string, subjects []string) error {
	stat, hdr, err := niftiio.Read(input)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"file":  input,
		"shape": stat.Shape(),
		"voxel": fmt.Sprintf("%.2fx%.2fx%.2f", stat.VoxelSize.X, stat.VoxelSize.Y, stat.VoxelSize.Z),
	}).Info("Loaded statistic volume")

	seed := cfg.Cluster.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	log.WithField("seed", seed).Debug("Seeding null distribution")

	sampler := cluster.NewDefaultSampler(cfg.Processing.NumCores)
	sampler.Truncate = cfg.Processing.SmoothingTruncate
	sampler.Progress = progressLogger(params.Permutations)

	engine := cluster.NewEngine(params)
	engine.Sampler = sampler
	engine.Rand = rand.New(rand.NewSource(seed))

	ctx := context.Background()
	if cfg.Processing.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Processing.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := engine.ProcessImage(ctx, stat)
	if errors.Is(err, permutation.ErrIncomplete) {
		return fmt.Errorf("stopped before the null distribution was complete (timeout %v): %w", cfg.Processing.Timeout, err)
	}
	if err != nil {
		return err
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Cluster correction complete")

	for _, rec := range result.Records {
		log.WithFields(log.Fields{
			"cluster":     rec.ID,
			"size":        rec.Size,
			"peak":        fmt.Sprintf("%.3f", rec.Peak),
			"com":         fmt.Sprintf("(%.1f, %.1f, %.1f)", rec.CenterOfMass[0], rec.CenterOfMass[1], rec.CenterOfMass[2]),
			"p_raw":       rec.RawP,
			"p_corrected": rec.CorrectedP,
			"significant": rec.Rejected,
		}).Info("Cluster")
	}

	if cfg.Output.SaveThresholded {
		path := prefix + "_thr.nii.gz"
		if err := niftiio.Write(path, result.Thresholded, hdr); err != nil {
			return err
		}
		log.Infof("Thresholded volume saved to: %s", path)
	}

	maskPath := prefix + "_clusters.nii.gz"
	if err := niftiio.Write(maskPath, result.Mask, hdr); err != nil {
		return err
	}
	log.Infof("Retained cluster mask saved to: %s", maskPath)

	if dir := cfg.Output.PreviewDir; dir != "" {
		if err := savePreview(result.Mask, dir); err != nil {
			log.Warnf("Failed to save preview slices: %v", err)
		}
	}

	if len(subjects) > 0 {
		return summarize(result.Mask, subjects)
	}
	return nil
}

// progressLogger logs roughly every tenth of the run
func progressLogger(total int) permutation.ProgressCallback {
	step := total / 10
	if step < 1 {
		step = 1
	}
	return func(completed, n int) {
		if completed%step == 0 || completed == n {
			log.Debugf("Permutations: %d/%d", completed, n)
		}
	}
}

// savePreview writes the non-empty slices of the mask along all three axes
func savePreview(mask *models.Volume, dir string) error {
	viewer := visualization.NewViewer(mask, 4)
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(dir, axis)
		saved, err := viewer.SaveSliceSequence(axis, axisDir, true)
		if err != nil {
			return err
		}
		log.Debugf("Saved %d %s-axis slices to %s", saved, axis, axisDir)
	}
	return nil
}

// summarize reports the signal of each subject volume inside the surviving clusters
func summarize(mask *models.Volume, paths []string) error {
	regions := summary.Regions(mask)
	if regions.Count == 0 {
		log.Info("No surviving clusters, skipping subject summaries")
		return nil
	}

	subjects, err := readSubjects(paths)
	if err != nil {
		return err
	}

	summaries, err := summary.Overlay(subjects, regions, mask)
	if err != nil {
		return err
	}
	logSummaries("clusters", summaries)
	return nil
}

// summarizeMasks reports the signal of each subject inside every fixed binary mask
func summarizeMasks(maskPaths, paths []string) error {
	if len(paths) == 0 {
		log.Warn("No subject volumes given, skipping mask summaries")
		return nil
	}
	subjects, err := readSubjects(paths)
	if err != nil {
		return err
	}

	for _, maskPath := range maskPaths {
		mask, _, err := niftiio.Read(maskPath)
		if err != nil {
			return err
		}
		summaries, err := summary.FixedMask(subjects, mask)
		if errors.Is(err, summary.ErrNoRegions) {
			log.WithField("mask", maskPath).Warn("Mask has no positive voxels")
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", maskPath, err)
		}
		logSummaries(filepath.Base(maskPath), summaries)
	}
	return nil
}

func readSubjects(paths []string) ([]summary.Subject, error) {
	subjects := make([]summary.Subject, 0, len(paths))
	for _, path := range paths {
		v, _, err := niftiio.Read(path)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, summary.Subject{Name: filepath.Base(path), Volume: v})
	}
	return subjects, nil
}

func logSummaries(source string, summaries []summary.SubjectSummary) {
	for _, s := range summaries {
		for _, r := range s.Regions {
			log.WithFields(log.Fields{
				"source":  source,
				"subject": s.Name,
				"region":  r.Label,
				"size":    r.Voxels,
				"com":     fmt.Sprintf("(%.1f, %.1f, %.1f)", r.CenterOfMass[0], r.CenterOfMass[1], r.CenterOfMass[2]),
				"mean":    fmt.Sprintf("%.4f", r.Mean),
				"std":     fmt.Sprintf("%.4f", r.Std),
			}).Info("Region summary")
		}
	}
}

func trimNiftiExt(path string) string {
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(strings.ToLower(path), ext) {
			return path[:len(path)-len(ext)]
		}
	}
	return path
}
