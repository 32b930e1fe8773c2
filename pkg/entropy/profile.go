package entropy

import (
	"github.com/montanaflynn/stats"

	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
)

// Profile describes a per-row surprise series. An empty series yields a zero profile.
func Profile(series []float64) models.SurprisalProfile {
	if len(series) == 0 {
		return models.SurprisalProfile{}
	}
	data := stats.Float64Data(series)

	var p models.SurprisalProfile
	p.Mean, _ = data.Mean()
	p.StdDev, _ = data.StandardDeviation()
	p.Median, _ = data.Median()
	p.P95, _ = data.Percentile(95)
	p.Max, _ = data.Max()
	return p
}
