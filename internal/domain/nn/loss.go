package nn

import (
	"fmt"
	"math"
)

// SoftmaxCrossEntropy returns the mean cross-entropy of logits against
// labels and the gradient of that mean with respect to the logits.
func SoftmaxCrossEntropy(logits [][]float64, labels []int) (float64, [][]float64, error) {
	if len(logits) != len(labels) {
		return 0, nil, fmt.Errorf("%w: %d logit rows for %d labels", ErrShape, len(logits), len(labels))
	}
	if len(logits) == 0 {
		return 0, nil, nil
	}
	n := float64(len(logits))
	grad := make([][]float64, len(logits))
	loss := 0.0
	for b, row := range logits {
		y := labels[b]
		if y < 0 || y >= len(row) {
			return 0, nil, fmt.Errorf("%w: label %d with %d classes", ErrLabel, y, len(row))
		}
		probs := Softmax(row)
		loss -= math.Log(math.Max(probs[y], math.SmallestNonzeroFloat64))
		for i := range probs {
			probs[i] /= n
		}
		probs[y] -= 1 / n
		grad[b] = probs
	}
	return loss / n, grad, nil
}

// Softmax returns a numerically stable softmax of row.
func Softmax(row []float64) []float64 {
	maxV := math.Inf(-1)
	for _, v := range row {
		maxV = math.Max(maxV, v)
	}
	out := make([]float64, len(row))
	sum := 0.0
	for i, v := range row {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value; ties go to the lowest index.
func Argmax(row []float64) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}
