package forecast

import (
	"math"

	"github.com/stocktrend/prediagent/pkg/models"
)

// DefaultReturnWindow is the number of most recent daily returns averaged
// by the naive predictor
const DefaultReturnWindow = 30

// Naive predicts by compounding the mean daily return observed over the
// most recent trading days. It is the baseline predictor used whenever
// quote history exists for a ticker.
type Naive struct {
	// Window caps how many trailing returns feed the average. Zero means
	// DefaultReturnWindow.
	Window int
}

func NewNaive() *Naive {
	return &Naive{Window: DefaultReturnWindow}
}

func (n *Naive) Source() models.ForecastSource {
	return models.SourceNaive
}

func (n *Naive) Predict(history []models.Quote, days int) ([]float64, error) {
	if len(history) == 0 {
		return nil, ErrNoHistory
	}

	last := history[len(history)-1].Close

	var returns []float64
	for i := 1; i < len(history); i++ {
		prev := history[i-1].Close
		if prev == 0 {
			// a zero close would blow up the ratio, skip the row
			continue
		}
		returns = append(returns, (history[i].Close-prev)/prev)
	}

	preds := make([]float64, days)
	if len(returns) == 0 {
		// single observation: repeat the last price
		for i := range preds {
			preds[i] = last
		}
		return preds, nil
	}

	window := n.Window
	if window <= 0 {
		window = DefaultReturnWindow
	}
	if len(returns) > window {
		returns = returns[len(returns)-window:]
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	avg := sum / float64(len(returns))

	for i := range preds {
		preds[i] = last * math.Pow(1+avg, float64(i+1))
	}
	return preds, nil
}
