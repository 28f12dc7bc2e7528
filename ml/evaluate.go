package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sjwhitworth/golearn/evaluation"
	"golang.org/x/sync/errgroup"
)

var ErrEmptyTestSet = errors.New("test set is empty")

type ClassMetrics struct {
	Label     string  `json:"label"`
	Support   int     `json:"support"`
	Predicted int     `json:"predicted"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

type Evaluation struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
	// Confusion[actual][predicted]
	Confusion evaluation.ConfusionMatrix `json:"confusion"`
	Classes   []ClassMetrics             `json:"classes"`
}

// Evaluate predicts every record with clf and compares against its label.
// Up to workers predictions run concurrently; clf must be safe for
// concurrent use.
func Evaluate(ctx context.Context, clf Classifier, records []Record, workers int) (*Evaluation, error) {
	if len(records) == 0 {
		return nil, ErrEmptyTestSet
	}
	if workers <= 0 {
		workers = 1
	}

	predicted := make([]string, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			label, err := clf.Predict(records[i].Unlabeled())
			if err != nil {
				return fmt.Errorf("predict record %d: %w", i, err)
			}
			predicted[i] = label
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return score(records, predicted), nil
}

func score(records []Record, predicted []string) *Evaluation {
	confusion := make(evaluation.ConfusionMatrix)
	support := make(map[string]int)
	predictedCount := make(map[string]int)

	for i, record := range records {
		actual, got := record.AccidentSeverity, predicted[i]
		if confusion[actual] == nil {
			confusion[actual] = make(map[string]int)
		}
		confusion[actual][got]++
		support[actual]++
		predictedCount[got]++
	}

	eval := &Evaluation{
		Total:     len(records),
		Confusion: confusion,
		Accuracy:  finite(evaluation.GetAccuracy(confusion)),
	}
	for label, row := range confusion {
		eval.Correct += row[label]
	}

	labels := make(map[string]struct{})
	for label := range support {
		labels[label] = struct{}{}
	}
	for label := range predictedCount {
		labels[label] = struct{}{}
	}
	for label := range labels {
		eval.Classes = append(eval.Classes, ClassMetrics{
			Label:     label,
			Support:   support[label],
			Predicted: predictedCount[label],
			Precision: finite(evaluation.GetPrecision(label, confusion)),
			Recall:    finite(evaluation.GetRecall(label, confusion)),
			F1:        finite(evaluation.GetF1Score(label, confusion)),
		})
	}
	sort.Slice(eval.Classes, func(i, j int) bool {
		return eval.Classes[i].Label < eval.Classes[j].Label
	})
	return eval
}

// finite maps the NaN produced by a zero denominator to 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
