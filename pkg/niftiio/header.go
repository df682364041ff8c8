// Package niftiio reads and writes single-file NIfTI-1 volumes (.nii, .nii.gz).
package niftiio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
)

// HeaderSize is the size in bytes of a NIfTI-1 header
const HeaderSize = 348

// Datatype codes used by this package
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
	DTInt8    = 256
	DTUint16  = 512
	DTUint32  = 768
)

// MaxDim is the largest extent a NIfTI-1 dimension can hold
const MaxDim = math.MaxInt16

// Transform codes
const (
	XformUnknown = 0
	XformScanner = 1
	XformAligned = 2
	XformMNI152  = 4
)

// Header is the NIfTI-1 header. Field order and sizes follow the on-disk
// layout, so it can be decoded and encoded with encoding/binary directly.
type Header struct {
	SizeOfHdr      int32
	DataTypeUnused [10]byte
	DbName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte

	Dim        [8]int16 // Dim[0] is the number of dimensions
	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	Datatype   int16
	Bitpix     int16
	SliceStart int16
	Pixdim     [8]float32 // Pixdim[1..3] are voxel sizes
	VoxOffset  float32
	SclSlope   float32
	SclInter   float32
	SliceEnd   int16
	SliceCode  byte
	XYZTUnits  byte
	CalMax     float32
	CalMin     float32
	SliceDur   float32
	TOffset    float32
	Glmax      int32
	Glmin      int32

	Descrip [80]byte
	AuxFile [24]byte

	QformCode int16
	SformCode int16
	QuaternB  float32
	QuaternC  float32
	QuaternD  float32
	QoffsetX  float32
	QoffsetY  float32
	QoffsetZ  float32
	SrowX     [4]float32
	SrowY     [4]float32
	SrowZ     [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// DecodeHeader reads a header from r and detects its byte order
func DecodeHeader(r io.Reader) (*Header, binary.ByteOrder, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		if int32(order.Uint32(raw[:4])) != HeaderSize {
			continue
		}
		var h Header
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return nil, nil, fmt.Errorf("decoding header: %w", err)
		}
		if magic := string(h.Magic[:3]); magic != "n+1" && magic != "ni1" {
			return nil, nil, fmt.Errorf("not a NIfTI-1 file: magic %q", h.Magic[:])
		}
		return &h, order, nil
	}

	return nil, nil, fmt.Errorf("not a NIfTI-1 file: sizeof_hdr is not %d", HeaderSize)
}

// Encode writes the header in little-endian order
func (h *Header) Encode(w io.Writer) error {
	return h.EncodeOrder(w, binary.LittleEndian)
}

// EncodeOrder writes the header in the given byte order
func (h *Header) EncodeOrder(w io.Writer, order binary.ByteOrder) error {
	return binary.Write(w, order, h)
}

// CheckShape reports whether shape fits the 16-bit dimension fields
func CheckShape(shape [3]int) error {
	for i, n := range shape {
		if n < 1 || n > MaxDim {
			return fmt.Errorf("dimension %d is %d, must be in [1, %d]", i, n, MaxDim)
		}
	}
	return nil
}

// Shape returns the first three dimensions
func (h *Header) Shape() [3]int {
	shape := [3]int{1, 1, 1}
	for i := 0; i < 3 && i < int(h.Dim[0]); i++ {
		shape[i] = int(h.Dim[i+1])
	}
	return shape
}

// Affine returns the voxel-to-world transform. The sform is used when its code
// is set; otherwise the pixdim diagonal is returned.
func (h *Header) Affine() *mat.Dense {
	if h.SformCode > XformUnknown {
		data := make([]float64, 0, 16)
		for _, row := range [][4]float32{h.SrowX, h.SrowY, h.SrowZ} {
			for _, v := range row {
				data = append(data, float64(v))
			}
		}
		data = append(data, 0, 0, 0, 1)
		return mat.NewDense(4, 4, data)
	}
	return mat.NewDense(4, 4, []float64{
		float64(h.Pixdim[1]), 0, 0, 0,
		0, float64(h.Pixdim[2]), 0, 0,
		0, 0, float64(h.Pixdim[3]), 0,
		0, 0, 0, 1,
	})
}

// SetAffine stores a 4x4 affine in the sform rows
func (h *Header) SetAffine(a *mat.Dense) {
	for j := 0; j < 4; j++ {
		h.SrowX[j] = float32(a.At(0, j))
		h.SrowY[j] = float32(a.At(1, j))
		h.SrowZ[j] = float32(a.At(2, j))
	}
}

// NewHeader returns a float32 single-file header for a volume of the given shape
func NewHeader(shape [3]int) *Header {
	h := &Header{
		SizeOfHdr: HeaderSize,
		Regular:   'r',
		Datatype:  DTFloat32,
		Bitpix:    32,
		VoxOffset: HeaderSize + 4,
		SclSlope:  1,
		XYZTUnits: 2, // mm
	}
	h.Dim = [8]int16{3, int16(shape[0]), int16(shape[1]), int16(shape[2]), 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	copy(h.Magic[:], "n+1\x00")
	return h
}
