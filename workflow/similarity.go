package workflow

import (
	"math"

	"github.com/agnivade/levenshtein"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
)

// Similarity weights. Image identity is the strongest duplicate signal
// brokers can't easily fake away; price the weakest (relisting with a
// different price is common).
const (
	weightImage     = 0.35
	weightLocation  = 0.25
	weightSpecifics = 0.25
	weightPrice     = 0.15

	weightType   = 0.45
	weightConfig = 0.40
	weightArea   = 0.15

	earthRadiusMeters = 6371000.0
	geoExactMeters    = 60.0
	geoZeroMeters     = 4000.0
)

// TextSimilarity is a normalized Levenshtein ratio over lower-cased,
// whitespace-collapsed text. Deterministic, symmetric, bounds [0,1].
// Either side empty scores 0; identical normalized strings score 1.
func TextSimilarity(a string, b string) float64 {
	aa := utils.NormalizeText(a)
	bb := utils.NormalizeText(b)
	if aa == "" || bb == "" {
		return 0
	}
	if aa == bb {
		return 1
	}
	maxLen := len([]rune(aa))
	if l := len([]rune(bb)); l > maxLen {
		maxLen = l
	}
	dist := levenshtein.ComputeDistance(aa, bb)
	return math.Max(0, 1-float64(dist)/float64(maxLen))
}

// HaversineMeters is the great-circle distance on a spherical earth.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	d1 := (lat2 - lat1) * math.Pi / 180
	d2 := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(d1/2)*math.Sin(d1/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(d2/2)*math.Sin(d2/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// ComputeSimilarity scores two same-city listings on [0,100], rounded to two
// decimals. Pure and side-effect free: missing fields degrade their sub-score
// to zero rather than erroring.
func ComputeSimilarity(a *models.Property, b *models.Property) float64 {
	imageScore := 0.0
	imgA := utils.NormalizeText(a.ImageUrl)
	imgB := utils.NormalizeText(b.ImageUrl)
	if imgA != "" && imgB != "" {
		if imgA == imgB {
			imageScore = 1.0
		} else {
			imageScore = math.Max(
				TextSimilarity(utils.UrlBasename(imgA), utils.UrlBasename(imgB))*0.8,
				TextSimilarity(imgA, imgB)*0.5,
			)
		}
	}

	locScore := TextSimilarity(a.LocationText, b.LocationText)
	if a.Latitude != nil && a.Longitude != nil && b.Latitude != nil && b.Longitude != nil {
		distance := HaversineMeters(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
		geoScore := 1.0
		if distance > geoExactMeters {
			geoScore = math.Max(0, 1.0-distance/geoZeroMeters)
		}
		locScore = math.Max(locScore, geoScore)
	}

	typeScore := 0.0
	if utils.NormalizeText(a.AssetType) == utils.NormalizeText(b.AssetType) {
		typeScore = 1.0
	}
	configScore := TextSimilarity(a.Configuration, b.Configuration)

	areaScore := 0.0
	if a.AreaValue != nil && b.AreaValue != nil {
		areaA := a.AreaValue.InexactFloat64()
		areaB := b.AreaValue.InexactFloat64()
		if areaA > 0 && areaB > 0 {
			diff := math.Abs(areaA - areaB)
			areaScore = math.Max(0, 1.0-diff/math.Max(areaA, math.Max(areaB, 1.0)))
		}
	}
	specificsScore := typeScore*weightType + configScore*weightConfig + areaScore*weightArea

	priceScore := 0.0
	priceA := a.Price.InexactFloat64()
	priceB := b.Price.InexactFloat64()
	if priceA > 0 && priceB > 0 {
		diff := math.Abs(priceA - priceB)
		priceScore = math.Max(0, 1.0-diff/math.Max(priceA, math.Max(priceB, 1.0)))
	}

	total := imageScore*weightImage +
		locScore*weightLocation +
		specificsScore*weightSpecifics +
		priceScore*weightPrice
	return math.Round(total*100*100) / 100
}
