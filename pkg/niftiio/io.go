package niftiio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/henghuang/nifti"
	"github.com/klauspost/compress/gzip"

	"aslcluster/internal/models"
)

// ReadHeader reads only the header of a .nii or .nii.gz file
func ReadHeader(path string) (*Header, error) {
	h, _, err := readHeader(path)
	return h, err
}

func readHeader(path string) (*Header, binary.ByteOrder, error) {
	r, closer, err := open(path)
	if err != nil {
		return nil, nil, err
	}
	defer closer()

	h, order, err := DecodeHeader(r)
	if err != nil {
		return nil, nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	return h, order, nil
}

// open returns a reader over the decompressed file contents and a function
// releasing it
func open(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, pfx.Err(err)
	}

	var r io.Reader = bufio.NewReader(f)
	if !isGzip(path) {
		return r, func() { f.Close() }, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		f.Close()
		return nil, nil, pfx.Err(err)
	}
	return gz, func() {
		gz.Close()
		f.Close()
	}, nil
}

// Read loads the first volume of a NIfTI-1 file. Little-endian uint8, uint16
// and float32 voxels are decoded by the nifti library; other datatypes and
// big-endian files are decoded here from the header's datatype and byte
// order. Values are scaled by scl_slope and scl_inter when the slope is set.
func Read(path string) (*models.Volume, *Header, error) {
	h, order, err := readHeader(path)
	if err != nil {
		return nil, nil, err
	}

	shape := h.Shape()
	var values []float64
	if libraryDecodes(h, order) {
		values, err = readWithLibrary(path, shape)
	} else {
		values, err = readRaw(path, h, order)
	}
	if err != nil {
		return nil, nil, err
	}
	applyScaling(values, h)

	v := &models.Volume{
		Data:   values,
		Width:  shape[0],
		Height: shape[1],
		Depth:  shape[2],
		Affine: h.Affine(),
	}
	v.VoxelSize.X = math.Abs(float64(h.Pixdim[1]))
	v.VoxelSize.Y = math.Abs(float64(h.Pixdim[2]))
	v.VoxelSize.Z = math.Abs(float64(h.Pixdim[3]))

	return v, h, nil
}

// libraryDecodes reports whether the nifti library reads this datatype
// correctly. It picks the decoder from bitpix alone and assumes little-endian.
func libraryDecodes(h *Header, order binary.ByteOrder) bool {
	if order != binary.LittleEndian {
		return false
	}
	switch h.Datatype {
	case DTUint8, DTUint16, DTFloat32:
		return true
	}
	return false
}

func readWithLibrary(path string, shape [3]int) ([]float64, error) {
	var img nifti.Nifti1Image
	if err := safely(func() { img.LoadImage(path, true) }); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	dims := img.GetDims()
	for i := 0; i < 3; i++ {
		if dims[i] != shape[i] {
			return nil, &models.InvalidShapeError{What: fmt.Sprintf("%s axis %d", path, i), Want: shape[i], Got: dims[i]}
		}
	}

	w, hgt := shape[0], shape[1]
	values := make([]float64, shape[0]*shape[1]*shape[2])
	// GetAt panics when the voxel body is shorter than the header declares
	err := safely(func() {
		for z := 0; z < shape[2]; z++ {
			for y := 0; y < hgt; y++ {
				for x := 0; x < w; x++ {
					values[z*w*hgt+y*w+x] = float64(img.GetAt(x, y, z, 0))
				}
			}
		}
	})
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: reading voxels: %w", path, err))
	}
	return values, nil
}

// bytesPerVoxel returns the storage size of a supported datatype
func bytesPerVoxel(datatype int16) (int, error) {
	switch datatype {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported datatype %d", datatype)
}

func readRaw(path string, h *Header, order binary.ByteOrder) ([]float64, error) {
	size, err := bytesPerVoxel(h.Datatype)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	if int(h.Bitpix) != size*8 {
		return nil, pfx.Err(fmt.Errorf("%s: bitpix %d does not match datatype %d", path, h.Bitpix, h.Datatype))
	}

	r, closer, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	offset := int64(h.VoxOffset)
	if offset < HeaderSize {
		offset = HeaderSize
	}
	if _, err := io.CopyN(io.Discard, r, offset); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: seeking to voxel data: %w", path, err))
	}

	shape := h.Shape()
	n := shape[0] * shape[1] * shape[2]
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: reading %d voxels: %w", path, n, err))
	}

	values := make([]float64, n)
	for i := range values {
		b := raw[i*size : (i+1)*size]
		switch h.Datatype {
		case DTUint8:
			values[i] = float64(b[0])
		case DTInt8:
			values[i] = float64(int8(b[0]))
		case DTInt16:
			values[i] = float64(int16(order.Uint16(b)))
		case DTUint16:
			values[i] = float64(order.Uint16(b))
		case DTInt32:
			values[i] = float64(int32(order.Uint32(b)))
		case DTUint32:
			values[i] = float64(order.Uint32(b))
		case DTFloat32:
			values[i] = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			values[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return values, nil
}

// applyScaling maps stored values to value*scl_slope + scl_inter. A zero or
// NaN slope means the data are unscaled.
func applyScaling(values []float64, h *Header) {
	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || math.IsNaN(slope) {
		return
	}
	if math.IsNaN(inter) {
		inter = 0
	}
	if slope == 1 && inter == 0 {
		return
	}
	for i, v := range values {
		values[i] = v*slope + inter
	}
}

// Write stores v as a float32 NIfTI-1 file, gzip-compressed when path ends in
// .gz. When tmpl is non-nil its header fields are carried over and only the
// geometry and datatype are replaced.
func Write(path string, v *models.Volume, tmpl *Header) error {
	if err := v.Validate(); err != nil {
		return pfx.Err(err)
	}
	if err := CheckShape(v.Shape()); err != nil {
		return pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	h := NewHeader(v.Shape())
	if tmpl != nil {
		cp := *tmpl
		cp.Dim = [8]int16{3, int16(v.Width), int16(v.Height), int16(v.Depth), 1, 1, 1, 1}
		cp.Datatype, cp.Bitpix = DTFloat32, 32
		cp.VoxOffset = HeaderSize + 4
		cp.SclSlope, cp.SclInter = 1, 0
		cp.CalMin, cp.CalMax = 0, 0
		copy(cp.Magic[:], "n+1\x00")
		h = &cp
	}
	h.Pixdim[1] = float32(v.VoxelSize.X)
	h.Pixdim[2] = float32(v.VoxelSize.Y)
	h.Pixdim[3] = float32(v.VoxelSize.Z)
	if v.Affine != nil {
		h.SetAffine(v.Affine)
		if h.SformCode == XformUnknown {
			h.SformCode = XformScanner
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if isGzip(path) {
		gz = gzip.NewWriter(f)
		w = gz
	}
	bw := bufio.NewWriter(w)

	if err := writeBody(bw, h, v.Data); err != nil {
		f.Close()
		return pfx.Err(err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return pfx.Err(err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return pfx.Err(err)
		}
	}
	if err := f.Close(); err != nil {
		return pfx.Err(err)
	}
	return nil
}

func writeBody(w io.Writer, h *Header, data []float64) error {
	if err := h.Encode(w); err != nil {
		return err
	}
	// Empty extension block between header and voxel data
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, v := range data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// safely converts panics raised by the nifti library into errors
func safely(fn func()) (err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	fn()

	return
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}
