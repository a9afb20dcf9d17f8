package stages

import (
	"sort"

	"github.com/kiranamart/mandi/pkg/models"
)

// neutralProductRating stands in for products whose platform gave no rating
// signal, so unknown ratings neither sink nor boost a candidate.
const neutralProductRating = 3.5

// RatingFunc resolves a connector's base reliability rating in [0,1].
type RatingFunc func(connectorID string) float64

// Rank scores every candidate in [0,1] and orders them best-first.
//
// Delivery eta and price are normalized smaller-is-better within the
// candidate set; reliability is the connector's rating scaled by the
// product's own rating. The three components are combined by the caller's
// weight vector. Ties break on lower eta, then lower price, then insertion
// order, so equal inputs always rank identically.
func Rank(candidates []models.Product, weights models.ScoreComponents, rating RatingFunc) *models.Ranking {
	ranking := &models.Ranking{Weights: weights}
	if len(candidates) == 0 {
		return ranking
	}

	minEta, maxEta := candidates[0].DeliveryETA, candidates[0].DeliveryETA
	minPrice, maxPrice := candidates[0].UnitPrice, candidates[0].UnitPrice
	for _, c := range candidates[1:] {
		minEta = min(minEta, c.DeliveryETA)
		maxEta = max(maxEta, c.DeliveryETA)
		minPrice = min(minPrice, c.UnitPrice)
		maxPrice = max(maxPrice, c.UnitPrice)
	}

	type entry struct {
		ranked models.RankedProduct
		index  int
	}
	entries := make([]entry, 0, len(candidates))
	for i, c := range candidates {
		components := models.ScoreComponents{
			Delivery:    normalizeSmallerBetter(float64(c.DeliveryETA), float64(minEta), float64(maxEta)),
			Price:       normalizeSmallerBetter(c.UnitPrice, minPrice, maxPrice),
			Reliability: reliability(c, rating),
		}
		score := weights.Delivery*components.Delivery +
			weights.Price*components.Price +
			weights.Reliability*components.Reliability
		entries = append(entries, entry{
			ranked: models.RankedProduct{Product: c, Score: clamp01(score), Components: components},
			index:  i,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !floatEqual(a.ranked.Score, b.ranked.Score) {
			return a.ranked.Score > b.ranked.Score
		}
		if a.ranked.Product.DeliveryETA != b.ranked.Product.DeliveryETA {
			return a.ranked.Product.DeliveryETA < b.ranked.Product.DeliveryETA
		}
		if !floatEqual(a.ranked.Product.UnitPrice, b.ranked.Product.UnitPrice) {
			return a.ranked.Product.UnitPrice < b.ranked.Product.UnitPrice
		}
		return a.index < b.index
	})

	ranking.Products = make([]models.RankedProduct, len(entries))
	for i, e := range entries {
		ranking.Products[i] = e.ranked
	}
	return ranking
}

// normalizeSmallerBetter maps v into [0,1] where the smallest value in the
// candidate set scores 1. A degenerate set (all equal) scores 1 everywhere.
func normalizeSmallerBetter(v, minV, maxV float64) float64 {
	if maxV <= minV {
		return 1
	}
	return (maxV - v) / (maxV - minV)
}

func reliability(p models.Product, rating RatingFunc) float64 {
	connRating := 0.8
	if rating != nil {
		connRating = rating(p.ConnectorID)
	}
	productRating := p.Rating
	if productRating <= 0 {
		productRating = neutralProductRating
	}
	return clamp01(connRating * productRating / 5)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func floatEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
