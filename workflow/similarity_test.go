package workflow

import (
	"math"
	"testing"

	"github.com/propdesk/brokerage_backend/models"
	"github.com/shopspring/decimal"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestTextSimilarity(t *testing.T) {
	cases := []struct {
		a, b     string
		expected float64
	}{
		{"", "anything", 0},
		{"anything", "", 0},
		{"", "", 0},
		{"Sunrise Apartments", "  sunrise   APARTMENTS ", 1},
		{"abcd", "abce", 0.75},
		{"abcd", "wxyz", 0},
	}
	for _, tc := range cases {
		got := TextSimilarity(tc.a, tc.b)
		if !approxEqual(got, tc.expected, 1e-9) {
			t.Fatalf("TextSimilarity(%q, %q) expected %v, got %v", tc.a, tc.b, tc.expected, got)
		}
	}
}

func TestTextSimilaritySymmetricAndBounded(t *testing.T) {
	pairs := [][2]string{
		{"2BHK near metro", "2 BHK near the metro"},
		{"Koramangala 4th Block", "HSR Layout Sector 2"},
		{"flat-101.jpg", "flat-102.jpg"},
	}
	for _, p := range pairs {
		ab := TextSimilarity(p[0], p[1])
		ba := TextSimilarity(p[1], p[0])
		if ab != ba {
			t.Fatalf("TextSimilarity not symmetric for %q/%q: %v vs %v", p[0], p[1], ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Fatalf("TextSimilarity(%q, %q) out of bounds: %v", p[0], p[1], ab)
		}
	}
}

func TestHaversineMeters(t *testing.T) {
	if d := HaversineMeters(12.9716, 77.5946, 12.9716, 77.5946); d != 0 {
		t.Fatalf("distance to self expected 0, got %v", d)
	}
	// One degree of longitude on the equator.
	d := HaversineMeters(0, 0, 0, 1)
	expected := earthRadiusMeters * math.Pi / 180
	if !approxEqual(d, expected, 1.0) {
		t.Fatalf("equator degree expected ~%v, got %v", expected, d)
	}
}

func testProperty(mutate func(*models.Property)) *models.Property {
	area := decimal.NewFromInt(1200)
	lat := 12.9716
	lng := 77.5946
	p := &models.Property{
		Title:         "Sunrise Apartments 2BHK",
		AssetType:     "apartment",
		Configuration: "2BHK",
		AreaValue:     &area,
		LocationText:  "Koramangala 4th Block",
		City:          "Bangalore",
		Price:         decimal.NewFromInt(9000000),
		Latitude:      &lat,
		Longitude:     &lng,
		ImageUrl:      "https://cdn.example.com/listings/flat-101.jpg",
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func TestComputeSimilarityIdenticalListings(t *testing.T) {
	a := testProperty(nil)
	b := testProperty(nil)
	if got := ComputeSimilarity(a, b); got != 100 {
		t.Fatalf("identical listings expected 100, got %v", got)
	}
}

func TestComputeSimilaritySymmetric(t *testing.T) {
	a := testProperty(nil)
	b := testProperty(func(p *models.Property) {
		p.Price = decimal.NewFromInt(8000000)
		p.ImageUrl = "https://other-cdn.example.com/x/flat-101.jpg"
	})
	if ab, ba := ComputeSimilarity(a, b), ComputeSimilarity(b, a); ab != ba {
		t.Fatalf("ComputeSimilarity not symmetric: %v vs %v", ab, ba)
	}
}

func TestComputeSimilarityPriceDivergence(t *testing.T) {
	a := testProperty(nil)
	// Everything identical except price at half: price sub-score 0.5,
	// total = 0.35 + 0.25 + 0.25 + 0.15*0.5 = 92.5.
	b := testProperty(func(p *models.Property) {
		p.Price = decimal.NewFromInt(4500000)
	})
	if got := ComputeSimilarity(a, b); !approxEqual(got, 92.5, 0.01) {
		t.Fatalf("half-price twin expected ~92.5, got %v", got)
	}
}

func TestComputeSimilarityImageBasenameMatch(t *testing.T) {
	a := testProperty(nil)
	// Same file re-hosted on a different CDN path: basename match caps the
	// image component at 0.8 instead of 1.0, costing 0.2*35 = 7 points.
	b := testProperty(func(p *models.Property) {
		p.ImageUrl = "https://mirror.example.net/uploads/2026/flat-101.jpg"
	})
	got := ComputeSimilarity(a, b)
	if !approxEqual(got, 93.0, 0.5) {
		t.Fatalf("re-hosted image twin expected ~93, got %v", got)
	}
}

func TestComputeSimilarityMissingImageScoresZeroComponent(t *testing.T) {
	a := testProperty(func(p *models.Property) { p.ImageUrl = "" })
	b := testProperty(nil)
	// Image component drops to 0, everything else identical: 65.
	if got := ComputeSimilarity(a, b); !approxEqual(got, 65.0, 0.01) {
		t.Fatalf("missing image expected 65, got %v", got)
	}
}

func TestComputeSimilarityGeoThresholds(t *testing.T) {
	a := testProperty(func(p *models.Property) { p.LocationText = "somewhere" })

	// ~55m north: within the exact-match radius, geo score 1.0.
	near := testProperty(func(p *models.Property) {
		p.LocationText = "totally different text"
		lat := 12.9716 + 55.0/111194.9
		p.Latitude = &lat
	})
	// ~5km north: beyond the zero radius, geo contributes nothing.
	far := testProperty(func(p *models.Property) {
		p.LocationText = "totally different text"
		lat := 12.9716 + 5000.0/111194.9
		p.Latitude = &lat
	})

	nearScore := ComputeSimilarity(a, near)
	farScore := ComputeSimilarity(a, far)
	if nearScore <= farScore {
		t.Fatalf("near twin (%v) must outscore far twin (%v)", nearScore, farScore)
	}
	// Location component difference is bounded by the location weight.
	if diff := nearScore - farScore; diff > 25.0+0.01 {
		t.Fatalf("location swing exceeds its weight: %v", diff)
	}
}

func TestComputeSimilarityBounds(t *testing.T) {
	a := testProperty(nil)
	b := testProperty(func(p *models.Property) {
		p.Title = "Different"
		p.AssetType = "plot"
		p.Configuration = ""
		p.AreaValue = nil
		p.LocationText = "Elsewhere"
		p.Latitude = nil
		p.Longitude = nil
		p.Price = decimal.NewFromInt(1)
		p.ImageUrl = ""
	})
	got := ComputeSimilarity(a, b)
	if got < 0 || got > 100 {
		t.Fatalf("score out of bounds: %v", got)
	}
}
