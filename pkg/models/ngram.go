package models

// NGramLetter is one n-gram letter with the axis points that produced it.
type NGramLetter struct {
	Letter      string   `json:"letter"`
	Count       int      `json:"count"`
	Probability float64  `json:"prob"`
	Surprise    float64  `json:"surprise"`
	AxisPoints  []string `json:"axis_points"`
}

// NGramResult is the outcome of an n-gram run. Summary.RecordLength counts
// axis points; RowCount counts the rows behind them.
type NGramResult struct {
	Summary  Summary       `json:"summary"`
	BinWidth float64       `json:"bin_width"` // discovered width of the first dependent
	RowCount int64         `json:"row_count"`
	Letters  []NGramLetter `json:"letters"`
}
