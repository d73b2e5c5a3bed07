package forecast

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stocktrend/prediagent/pkg/models"
)

func quotesFromCloses(closes []float64) []models.Quote {
	quotes := make([]models.Quote, len(closes))
	for i, c := range closes {
		quotes[i] = models.Quote{
			Ticker: "TEST",
			Date:   fmt.Sprintf("2026-01-%02d", i+1),
			Close:  c,
		}
	}
	return quotes
}

func TestNaiveCompoundsMeanReturn(t *testing.T) {
	n := NewNaive()

	// single 10% step, forecast compounds it
	history := quotesFromCloses([]float64{100, 110})
	preds, err := n.Predict(history, 3)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(preds) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(preds))
	}
	for i, got := range preds {
		want := 110 * math.Pow(1.1, float64(i+1))
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("day %d: got %v, want %v", i+1, got, want)
		}
	}
}

func TestNaiveSingleQuoteRepeatsLastPrice(t *testing.T) {
	n := NewNaive()

	preds, err := n.Predict(quotesFromCloses([]float64{250}), 4)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i, p := range preds {
		if p != 250 {
			t.Errorf("day %d: expected flat 250, got %v", i+1, p)
		}
	}
}

func TestNaiveEmptyHistory(t *testing.T) {
	n := NewNaive()
	if _, err := n.Predict(nil, 5); !errors.Is(err, ErrNoHistory) {
		t.Errorf("expected ErrNoHistory, got %v", err)
	}
}

func TestNaiveWindowDropsOldReturns(t *testing.T) {
	n := NewNaive()

	// Ten doubling steps followed by thirty flat closes. Only the flat
	// window should feed the average, so the forecast stays flat.
	closes := []float64{1}
	for i := 0; i < 10; i++ {
		closes = append(closes, closes[len(closes)-1]*2)
	}
	last := closes[len(closes)-1]
	for i := 0; i < 30; i++ {
		closes = append(closes, last)
	}

	preds, err := n.Predict(quotesFromCloses(closes), 5)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i, p := range preds {
		if math.Abs(p-last) > 1e-9 {
			t.Errorf("day %d: expected flat %v, got %v", i+1, last, p)
		}
	}
}

func TestDemoRangeAndRounding(t *testing.T) {
	d := NewDemo(42)

	preds, err := d.Predict(nil, 10)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(preds) != 10 {
		t.Fatalf("expected 10 predictions, got %d", len(preds))
	}
	for i, p := range preds {
		if p < 95 || p > 505 {
			t.Errorf("day %d: price %v outside demo range", i+1, p)
		}
		if math.Abs(p*100-math.Round(p*100)) > 1e-9 {
			t.Errorf("day %d: price %v not rounded to cents", i+1, p)
		}
	}
}

func TestDemoSeedDeterminism(t *testing.T) {
	a, _ := NewDemo(7).Predict(nil, 5)
	b, _ := NewDemo(7).Predict(nil, 5)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("day %d: same seed produced %v and %v", i+1, a[i], b[i])
		}
	}
}
