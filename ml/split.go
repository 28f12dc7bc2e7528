package ml

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrInvalidFraction = errors.New("train fraction must be in (0, 1]")

// SplitTrainTest keeps record order: the first int(len*trainFraction)
// records train, the rest test. Both results share the input backing array.
func SplitTrainTest(records []Record, trainFraction float64) (train, test []Record, err error) {
	if trainFraction <= 0 || trainFraction > 1 {
		return nil, nil, fmt.Errorf("%w: got %v", ErrInvalidFraction, trainFraction)
	}
	split := int(float64(len(records)) * trainFraction)
	return records[:split:split], records[split:], nil
}

// Shuffle returns a permuted copy of records; the same seed gives the same order.
func Shuffle(records []Record, seed int64) []Record {
	rnd := rand.New(rand.NewSource(seed))
	out := make([]Record, len(records))
	for i, idx := range rnd.Perm(len(records)) {
		out[i] = records[idx]
	}
	return out
}
