package collector

import (
	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/oitrack/internal/storage"
)

// sketchAccuracy is the DDSketch relative accuracy (1% error).
const sketchAccuracy = 0.01

// BatchSummary holds the open-interest and implied-volatility distribution
// of one written batch, for cycle logging.
type BatchSummary struct {
	count int
	oi    *ddsketch.DDSketch
	iv    *ddsketch.DDSketch
}

// SummarizeBatch sketches the OI and IV distributions of a batch.
func SummarizeBatch(quotes []storage.InstrumentQuote) *BatchSummary {
	s := &BatchSummary{count: len(quotes)}

	oi, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return s
	}
	iv, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return s
	}
	s.oi, s.iv = oi, iv

	for _, q := range quotes {
		// DDSketch only accepts strictly positive values; zero-OI strikes
		// carry no distribution information anyway.
		if q.OpenInterest > 0 {
			s.oi.Add(q.OpenInterest)
		}
		if q.ImpliedVolatility > 0 {
			s.iv.Add(q.ImpliedVolatility)
		}
	}

	return s
}

// Count returns the number of quotes summarized.
func (s *BatchSummary) Count() int { return s.count }

// OIQuantile returns the open-interest value at quantile q, or 0 when the
// sketch is empty.
func (s *BatchSummary) OIQuantile(q float64) float64 {
	return quantileOf(s.oi, q)
}

// IVQuantile returns the implied-volatility value at quantile q, or 0
// when the sketch is empty.
func (s *BatchSummary) IVQuantile(q float64) float64 {
	return quantileOf(s.iv, q)
}

func quantileOf(sketch *ddsketch.DDSketch, q float64) float64 {
	if sketch == nil || sketch.GetCount() == 0 {
		return 0
	}
	v, err := sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}
