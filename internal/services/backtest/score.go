package backtest

import (
	"FinBand/internal/domain/models"
	"FinBand/internal/services/quantile"
)

// Score computes per-level pinball loss and hit rate against the realised
// bound target, and how often each band pair contained the realised range.
func Score(res *models.BacktestResult, pairs []models.BandPair) models.Scorecard {
	card := models.Scorecard{}
	if res == nil {
		return card
	}
	card.Rows = len(res.Rows)
	if len(pairs) == 0 {
		pairs = models.DefaultBandPairs
	}

	for _, q := range res.Levels {
		kind := q.Target()
		var ys, preds []float64
		hits := 0
		for _, r := range res.Rows {
			pred, ok := r.Forecast[q]
			if !ok {
				continue
			}
			actual := r.Actual(kind)
			ys = append(ys, actual)
			preds = append(preds, pred)
			if actual <= pred {
				hits++
			}
		}
		score := models.LevelScore{Level: q, Target: kind.String()}
		if len(ys) > 0 {
			score.PinballLoss = quantile.MeanPinballLoss(float64(q), ys, preds)
			score.HitRate = float64(hits) / float64(len(ys))
		}
		card.Levels = append(card.Levels, score)
	}

	for _, pair := range pairs {
		inside, total := 0, 0
		for _, r := range res.Rows {
			lo, okLo := r.Forecast[pair.Lower]
			hi, okHi := r.Forecast[pair.Upper]
			if !okLo || !okHi {
				continue
			}
			total++
			if lo <= r.ActualLow && r.ActualHigh <= hi {
				inside++
			}
		}
		if total == 0 {
			continue
		}
		card.Bands = append(card.Bands, models.BandScore{
			Pair:        pair,
			Nominal:     pair.Nominal(),
			Containment: float64(inside) / float64(total),
		})
	}
	return card
}
