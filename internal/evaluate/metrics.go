// Package evaluate scores model labels against human annotations.
package evaluate

import (
	"math"

	"sentiment-labeler/internal/models"
)

// Classes is the label order used by confusion matrices.
var Classes = []models.Label{models.Negative, models.Neutral, models.Positive}

func classIndex(l models.Label) (int, bool) {
	for i, c := range Classes {
		if c == l {
			return i, true
		}
	}
	return 0, false
}

// Confusion counts [true][predicted] over Classes.
type Confusion [3][3]int

// Add records one pair. Labels outside Classes are ignored.
func (c *Confusion) Add(truth, pred models.Label) {
	t, ok := classIndex(truth)
	if !ok {
		return
	}
	p, ok := classIndex(pred)
	if !ok {
		return
	}
	c[t][p]++
}

// Total is the number of recorded pairs.
func (c *Confusion) Total() int {
	n := 0
	for t := range c {
		for p := range c[t] {
			n += c[t][p]
		}
	}
	return n
}

// Scores summarizes agreement between one predictor and the human labels.
type Scores struct {
	N          int     `json:"n"`
	Accuracy   float64 `json:"accuracy"`
	MacroF1    float64 `json:"macro_f1"` // mean of per-class F1
	WeightedF1 float64 `json:"weighted_f1"`
	Kappa      float64 `json:"kappa"`
	MCC        float64 `json:"mcc"`
}

// Score computes Scores from a confusion matrix. Undefined ratios are 0.
func Score(c Confusion) Scores {
	n := c.Total()
	if n == 0 {
		return Scores{}
	}

	var (
		trueSums, predSums [3]int
		correct            int
	)
	for t := range c {
		for p := range c[t] {
			trueSums[t] += c[t][p]
			predSums[p] += c[t][p]
		}
		correct += c[t][t]
	}

	s := Scores{N: n, Accuracy: ratio(correct, n)}

	var macro, weighted float64
	for k := range Classes {
		precision := ratio(c[k][k], predSums[k])
		recall := ratio(c[k][k], trueSums[k])
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		macro += f1
		weighted += f1 * float64(trueSums[k])
	}
	s.MacroF1 = macro / float64(len(Classes))
	s.WeightedF1 = weighted / float64(n)

	nf := float64(n)
	var expected, sumTP, sumT2, sumP2 float64
	for k := range Classes {
		tk, pk := float64(trueSums[k]), float64(predSums[k])
		expected += tk * pk / (nf * nf)
		sumTP += tk * pk
		sumT2 += tk * tk
		sumP2 += pk * pk
	}
	if expected < 1 {
		s.Kappa = (s.Accuracy - expected) / (1 - expected)
	}

	denom := math.Sqrt((nf*nf - sumP2) * (nf*nf - sumT2))
	if denom > 0 {
		s.MCC = (float64(correct)*nf - sumTP) / denom
	}
	return s
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
