package forecast

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/stocktrend/prediagent/pkg/models"
)

// Demo is the history-free fallback predictor. It draws a base price
// between 100 and 500 and jitters each forecast day within +/- 5 of it,
// rounded to cents.
type Demo struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemo creates a demo predictor. A seed of 0 uses the current time.
func NewDemo(seed int64) *Demo {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Demo{rng: rand.New(rand.NewSource(seed))}
}

func (d *Demo) Source() models.ForecastSource {
	return models.SourceDemo
}

func (d *Demo) Predict(_ []models.Quote, days int) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	base := 100 + d.rng.Float64()*400
	preds := make([]float64, days)
	for i := range preds {
		preds[i] = math.Round((base+d.rng.Float64()*10-5)*100) / 100
	}
	return preds, nil
}
