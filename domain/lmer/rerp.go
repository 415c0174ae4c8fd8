package lmer

import "lmerkit/domain/fdr"

// RERPPoint is one time stamp of a coefficient's time series on one channel
type RERPPoint struct {
	Time        float64
	Estimate    float64
	SE          float64
	DF          float64
	PValue      float64
	HasWarning  bool
	Significant bool
}

// RERPSeries is the regression ERP of one parameter of one model on one channel,
// with FDR flags computed over this series alone
type RERPSeries struct {
	Channel string
	Model   string
	Param   string
	Points  []RERPPoint
	FDR     fdr.Result
}

// Times returns the series time stamps
func (s RERPSeries) Times() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Time
	}
	return out
}
