package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"aslcluster/internal/models"
)

// Viewer renders orthogonal slices of a volume, typically a retained cluster
// mask, as grayscale images
type Viewer struct {
	// volume holds the data to render
	volume *models.Volume

	// scale is the integer upscaling factor applied when saving
	scale int

	// window is the intensity mapped to white
	window float64
}

// NewViewer creates a viewer over v. Intensities are windowed to the largest
// absolute value in the volume; scale values below 1 are treated as 1.
func NewViewer(v *models.Volume, scale int) *Viewer {
	if scale < 1 {
		scale = 1
	}
	window := 0.0
	for _, value := range v.Data {
		if a := math.Abs(value); a > window {
			window = a
		}
	}
	return &Viewer{volume: v, scale: scale, window: window}
}

// axisLength returns the number of slices along axis
func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.volume.Width, nil
	case "y", "Y":
		return v.volume.Height, nil
	case "z", "Z":
		return v.volume.Depth, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// gray maps a voxel value into the display window
func (v *Viewer) gray(value float64) color.Gray16 {
	if v.window == 0 {
		return color.Gray16{}
	}
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, math.Abs(value)/v.window*65535)))}
}

// ExtractSlice extracts a 2D slice perpendicular to axis at position.
// The second returned value reports whether any voxel in the slice is nonzero.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, bool, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return nil, false, err
	}
	if position < 0 || position >= n {
		return nil, false, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	vol := v.volume
	var img *image.Gray16
	nonEmpty := false

	switch axis {
	case "x", "X":
		// YZ plane
		img = image.NewGray16(image.Rect(0, 0, vol.Height, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for y := 0; y < vol.Height; y++ {
				value := vol.At(position, y, z)
				nonEmpty = nonEmpty || value != 0
				img.SetGray16(y, z, v.gray(value))
			}
		}
	case "y", "Y":
		// XZ plane
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				value := vol.At(x, position, z)
				nonEmpty = nonEmpty || value != 0
				img.SetGray16(x, z, v.gray(value))
			}
		}
	default:
		// XY plane
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				value := vol.At(x, y, position)
				nonEmpty = nonEmpty || value != 0
				img.SetGray16(x, y, v.gray(value))
			}
		}
	}

	// Image rows grow downwards while voxel indices grow upwards
	return imaging.FlipV(img), nonEmpty, nil
}

// SaveSlice saves a slice image, upscaled with nearest-neighbour sampling.
// The format follows the file extension.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	if v.scale > 1 {
		b := img.Bounds()
		img = imaging.Resize(img, b.Dx()*v.scale, b.Dy()*v.scale, imaging.NearestNeighbor)
	}
	return imaging.Save(img, filename)
}

// SaveSliceSequence saves every slice along axis to outputDir and returns the
// number of files written. With skipEmpty, all-zero slices are not written.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string, skipEmpty bool) (int, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	saved := 0
	for pos := 0; pos < n; pos++ {
		img, nonEmpty, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return saved, err
		}
		if skipEmpty && !nonEmpty {
			continue
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return saved, err
		}
		saved++
	}

	return saved, nil
}
