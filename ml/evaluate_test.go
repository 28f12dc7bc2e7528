package ml

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sjwhitworth/golearn/evaluation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupClassifier map[string]string

func (l lookupClassifier) Predict(record Record) (string, error) {
	if record.AccidentSeverity != "" {
		return "", errors.New("label leaked into prediction")
	}
	label, ok := l[record.JunctionControl]
	if !ok {
		return "", errors.New("no answer")
	}
	return label, nil
}

func TestEvaluate(t *testing.T) {
	clf := lookupClassifier{"a": "Slight", "b": "Slight", "c": "Fatal", "d": "Serious"}
	records := []Record{
		uniform("a", "Slight"),
		uniform("b", "Fatal"),
		uniform("c", "Fatal"),
		uniform("d", "Slight"),
	}

	eval, err := Evaluate(context.Background(), clf, records, 3)
	require.NoError(t, err)

	assert.Equal(t, 4, eval.Total)
	assert.Equal(t, 2, eval.Correct)
	assert.InDelta(t, 0.5, eval.Accuracy, 1e-12)

	wantConfusion := evaluation.ConfusionMatrix{
		"Slight": {"Slight": 1, "Serious": 1},
		"Fatal":  {"Slight": 1, "Fatal": 1},
	}
	if diff := cmp.Diff(wantConfusion, eval.Confusion); diff != "" {
		t.Errorf("confusion mismatch (-want +got):\n%s", diff)
	}

	wantClasses := []ClassMetrics{
		{Label: "Fatal", Support: 2, Predicted: 1, Precision: 1, Recall: 0.5, F1: 2.0 / 3},
		{Label: "Serious", Support: 0, Predicted: 1},
		{Label: "Slight", Support: 2, Predicted: 2, Precision: 0.5, Recall: 0.5, F1: 0.5},
	}
	if diff := cmp.Diff(wantClasses, eval.Classes); diff != "" {
		t.Errorf("class metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateZeroDenominators(t *testing.T) {
	clf := lookupClassifier{"a": "Serious", "b": "Serious"}
	records := []Record{
		uniform("a", "Slight"),
		uniform("b", "Fatal"),
	}

	eval, err := Evaluate(context.Background(), clf, records, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, eval.Correct)
	assert.Zero(t, eval.Accuracy)

	wantClasses := []ClassMetrics{
		{Label: "Fatal", Support: 1},
		{Label: "Serious", Predicted: 2},
		{Label: "Slight", Support: 1},
	}
	if diff := cmp.Diff(wantClasses, eval.Classes); diff != "" {
		t.Errorf("class metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateEmptyTestSet(t *testing.T) {
	_, err := Evaluate(context.Background(), Train(sampleRecords()), nil, 2)
	require.ErrorIs(t, err, ErrEmptyTestSet)
}

func TestEvaluatePropagatesPredictError(t *testing.T) {
	_, err := Evaluate(context.Background(), Train(nil), sampleRecords(), 2)
	require.ErrorIs(t, err, ErrEmptyModel)
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Evaluate(ctx, Train(sampleRecords()), sampleRecords(), 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateTrainedModel(t *testing.T) {
	records := []Record{
		uniform("A", "Slight"),
		uniform("A", "Slight"),
		uniform("B", "Fatal"),
	}
	model := Train(records)

	eval, err := Evaluate(context.Background(), model, records, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, eval.Correct)
	assert.InDelta(t, 1.0, eval.Accuracy, 1e-12)
}
