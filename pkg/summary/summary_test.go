package summary

import (
	"errors"
	"math"
	"testing"

	"aslcluster/internal/models"
)

func twoRegionMask() *models.Volume {
	mask := models.NewVolume(4, 4, 4)
	mask.Set(0, 0, 0, 1)
	mask.Set(1, 0, 0, 1)
	mask.Set(3, 3, 3, 7)
	return mask
}

func TestMaskStats(t *testing.T) {
	mask := twoRegionMask()
	subject := models.NewVolume(4, 4, 4)
	subject.Set(0, 0, 0, 40)
	subject.Set(1, 0, 0, 60)
	subject.Set(3, 3, 3, 55)
	subject.Set(2, 2, 2, 1000) // outside every region

	regions := Regions(mask)
	got, err := MaskStats(subject, regions, mask)
	if err != nil {
		t.Fatalf("MaskStats failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 regions, got %d", len(got))
	}

	if got[0].Voxels != 2 || got[0].Mean != 50 || got[0].Std != 10 {
		t.Errorf("Expected region 1 voxels=2 mean=50 std=10, got %+v", got[0])
	}
	if got[0].CenterOfMass != [3]float64{0.5, 0, 0} {
		t.Errorf("Expected centroid (0.5,0,0), got %v", got[0].CenterOfMass)
	}
	if got[1].Voxels != 1 || got[1].Mean != 55 || got[1].Std != 0 {
		t.Errorf("Expected region 2 voxels=1 mean=55 std=0, got %+v", got[1])
	}
}

func TestBinarize(t *testing.T) {
	mask := twoRegionMask()
	regions := Binarize(mask)
	if regions.Count != 1 {
		t.Fatalf("Expected 1 region, got %d", regions.Count)
	}

	subject := models.NewVolume(4, 4, 4)
	for i := range subject.Data {
		subject.Data[i] = float64(i)
	}
	got, err := MaskStats(subject, regions, nil)
	if err != nil {
		t.Fatalf("MaskStats failed: %v", err)
	}
	expectedMean := (0.0 + 1.0 + 63.0) / 3
	if got[0].Voxels != 3 || math.Abs(got[0].Mean-expectedMean) > 1e-12 {
		t.Errorf("Expected 3 voxels with mean %f, got %+v", expectedMean, got[0])
	}

	negative := models.NewVolume(2, 2, 2)
	negative.Set(0, 0, 0, -1)
	negative.Set(1, 1, 1, 0.25)
	regions = Binarize(negative)
	if regions.Count != 1 || regions.Data[0] != 0 || regions.Data[negative.Index(1, 1, 1)] != 1 {
		t.Errorf("Expected only the positive voxel in the mask, got %v", regions.Data)
	}

	empty := Binarize(models.NewVolume(2, 2, 2))
	if empty.Count != 0 {
		t.Errorf("Expected empty region map, got %d regions", empty.Count)
	}
}

func TestShapeMismatch(t *testing.T) {
	regions := Regions(twoRegionMask())
	_, err := MaskStats(models.NewVolume(4, 4, 3), regions, nil)
	var shapeErr *models.InvalidShapeError
	if !errors.As(err, &shapeErr) {
		t.Errorf("Expected InvalidShapeError, got %v", err)
	}
}

func TestOverlay(t *testing.T) {
	mask := twoRegionMask()
	regions := Regions(mask)

	a := models.NewVolume(4, 4, 4)
	b := models.NewVolume(4, 4, 4)
	b.Set(3, 3, 3, 9)

	summaries, err := Overlay([]Subject{{Name: "sub-1001", Volume: a}, {Name: "sub-1002", Volume: b}}, regions, mask)
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(summaries))
	}
	if summaries[1].Name != "sub-1002" || summaries[1].Regions[1].Mean != 9 {
		t.Errorf("Unexpected summary for second subject: %+v", summaries[1])
	}

	if _, err := Overlay(nil, Binarize(models.NewVolume(2, 2, 2)), nil); !errors.Is(err, ErrNoRegions) {
		t.Errorf("Expected ErrNoRegions, got %v", err)
	}
}

func TestFixedMask(t *testing.T) {
	mask := twoRegionMask()
	mask.Set(2, 2, 2, -5) // negative voxels are not part of a binary mask

	subject := models.NewVolume(4, 4, 4)
	subject.Set(0, 0, 0, 40)
	subject.Set(1, 0, 0, 60)
	subject.Set(3, 3, 3, 50)
	subject.Set(2, 2, 2, 1000)

	got, err := FixedMask([]Subject{{Name: "cbf", Volume: subject}}, mask)
	if err != nil {
		t.Fatalf("FixedMask failed: %v", err)
	}
	if len(got) != 1 || len(got[0].Regions) != 1 {
		t.Fatalf("Expected one subject with one region, got %+v", got)
	}
	r := got[0].Regions[0]
	if r.Voxels != 3 || r.Mean != 50 {
		t.Errorf("Expected 3 voxels with mean 50, got %+v", r)
	}
	expectedStd := math.Sqrt(200.0 / 3)
	if math.Abs(r.Std-expectedStd) > 1e-12 {
		t.Errorf("Expected std %f, got %f", expectedStd, r.Std)
	}

	if _, err := FixedMask([]Subject{{Name: "cbf", Volume: subject}}, models.NewVolume(4, 4, 4)); !errors.Is(err, ErrNoRegions) {
		t.Errorf("Expected ErrNoRegions for an empty mask, got %v", err)
	}
}
