// Package permutation builds Monte-Carlo null distributions of the maximum
// cluster size of smoothed Gaussian noise.
package permutation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"aslcluster/pkg/labeling"
	"aslcluster/pkg/smoothing"
)

// ErrIncomplete is returned when a permutation batch stops before every sample
// was produced. Partial distributions are never returned.
var ErrIncomplete = errors.New("null distribution incomplete")

// ProgressCallback reports the number of finished permutations
type ProgressCallback func(completed, total int)

// Sampler draws null samples in parallel. The zero value is usable and runs
// one worker per CPU.
type Sampler struct {
	// Workers is the number of goroutines; values below 1 mean runtime.NumCPU()
	Workers int

	// Truncate is the smoothing kernel half-width in standard deviations
	Truncate float64

	// Progress, when set, is called after each finished permutation
	Progress ProgressCallback

	// Logger receives batch-level messages; nil uses the standard logger
	Logger log.FieldLogger
}

// NewSampler creates a sampler using the given number of workers
func NewSampler(workers int) *Sampler {
	return &Sampler{Workers: workers, Truncate: smoothing.DefaultTruncate}
}

// Sample returns n maximum-cluster-size samples for noise fields of the given
// shape smoothed with sigmaVoxels and thresholded at tcrit.
//
// rng seeds the run: one seed per permutation is drawn from it in index order
// before any work starts, and permutation i uses only its own generator. The
// output therefore depends on the state of rng alone, not on the number of
// workers or their scheduling.
func (s *Sampler) Sample(ctx context.Context, shape [3]int, sigmaVoxels, tcrit float64, n int, rng *rand.Rand) ([]int, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of permutations must be at least 1, got %d", n)
	}
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, fmt.Errorf("shape must be positive, got %v", shape)
	}
	if rng == nil {
		return nil, errors.New("a random source is required")
	}

	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}

	workers := s.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}

	logger := s.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{
		"permutations": n,
		"workers":      workers,
		"sigma_voxels": sigmaVoxels,
		"tcrit":        tcrit,
	}).Debug("Sampling null distribution")

	gauss := smoothing.NewGaussian(sigmaVoxels, s.Truncate)
	results := make([]int, n)
	jobs := make(chan int)
	var completed atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fw := newFieldWorker(shape, gauss, tcrit)
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				// Each index is handled by exactly one worker, so the slot
				// write needs no locking.
				results[i] = fw.sample(seeds[i])
				done := int(completed.Add(1))
				if s.Progress != nil {
					s.Progress(done, n)
				}
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if done := int(completed.Load()); done < n {
		err := ctx.Err()
		if err == nil {
			err = errors.New("workers stopped early")
		}
		logger.WithField("completed", done).Warn("Discarding partial null distribution")
		return nil, fmt.Errorf("%w after %d of %d permutations: %w", ErrIncomplete, done, n, err)
	}

	return results, nil
}

// fieldWorker owns the scratch buffers for one goroutine
type fieldWorker struct {
	shape   [3]int
	gauss   *smoothing.Gaussian
	tcrit   float64
	field   []float64
	scratch []float64
}

func newFieldWorker(shape [3]int, gauss *smoothing.Gaussian, tcrit float64) *fieldWorker {
	size := shape[0] * shape[1] * shape[2]
	return &fieldWorker{
		shape:   shape,
		gauss:   gauss,
		tcrit:   tcrit,
		field:   make([]float64, size),
		scratch: make([]float64, size),
	}
}

// sample produces one null realisation and returns its largest cluster size
func (w *fieldWorker) sample(seed uint64) int {
	r := rand.New(rand.NewSource(seed))
	for i := range w.field {
		w.field[i] = r.NormFloat64()
	}
	return MaxClusterSize(w.field, w.scratch, w.shape, w.gauss, w.tcrit)
}

// MaxClusterSize smooths field in place, zeroes values below tcrit and returns
// the size of the largest 26-connected component of what remains, or 0.
// scratch must have the same length as field.
func MaxClusterSize(field, scratch []float64, shape [3]int, gauss *smoothing.Gaussian, tcrit float64) int {
	gauss.ApplyInPlace(field, scratch, shape[0], shape[1], shape[2])
	for i, v := range field {
		if v < tcrit {
			field[i] = 0
		}
	}
	return labeling.Label(field, shape[0], shape[1], shape[2], labeling.NonZero).Max()
}
