package ml

// Classifier predicts a severity label for an unlabeled record.
type Classifier interface {
	Predict(record Record) (string, error)
}

// ModelProvider exposes the richer per-label output used by the HTTP layer.
type ModelProvider interface {
	Classifier
	Classify(record Record) (Prediction, error)
	Summary() ModelSummary
}

var _ ModelProvider = (*NaiveBayes)(nil)
