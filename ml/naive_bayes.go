package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrEmptyModel   = errors.New("model has no observed classes")
	ErrUnknownLabel = errors.New("label not observed during training")
)

type featureKey struct {
	label string
	value string
}

type counts struct {
	classes  map[string]int
	features [featureCount]map[featureKey]int
	total    int
}

func newCounts() counts {
	c := counts{classes: make(map[string]int)}
	for i := range c.features {
		c.features[i] = make(map[featureKey]int)
	}
	return c
}

func (c *counts) observe(record Record) {
	label := record.AccidentSeverity
	c.classes[label]++
	c.total++
	for f := Feature(0); f < featureCount; f++ {
		c.features[f][featureKey{label: label, value: record.Value(f)}]++
	}
}

func (c *counts) clone() counts {
	out := counts{
		classes: make(map[string]int, len(c.classes)),
		total:   c.total,
	}
	for label, n := range c.classes {
		out.classes[label] = n
	}
	for i, table := range c.features {
		out.features[i] = make(map[featureKey]int, len(table))
		for key, n := range table {
			out.features[i][key] = n
		}
	}
	return out
}

// Trainer accumulates frequency tables across Train calls. Calling Train
// again adds to the existing counts; use Reset to start over.
type Trainer struct {
	counts counts
}

func NewTrainer() *Trainer {
	return &Trainer{counts: newCounts()}
}

func (t *Trainer) Train(records []Record) {
	for _, record := range records {
		t.counts.observe(record)
	}
}

func (t *Trainer) Observe(record Record) {
	t.counts.observe(record)
}

func (t *Trainer) Reset() {
	t.counts = newCounts()
}

// Model returns an immutable snapshot of the counts seen so far.
func (t *Trainer) Model() *NaiveBayes {
	return newNaiveBayes(t.counts.clone())
}

// NaiveBayes is a trained categorical Naive Bayes model. It is never
// mutated after construction, so concurrent Predict calls are safe.
type NaiveBayes struct {
	counts counts
	labels []string
}

// Train builds a model from records in a single pass.
func Train(records []Record) *NaiveBayes {
	c := newCounts()
	for _, record := range records {
		c.observe(record)
	}
	return newNaiveBayes(c)
}

func newNaiveBayes(c counts) *NaiveBayes {
	labels := make([]string, 0, len(c.classes))
	for label := range c.classes {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return &NaiveBayes{counts: c, labels: labels}
}

// Labels returns the observed labels in ascending order.
func (nb *NaiveBayes) Labels() []string {
	return append([]string(nil), nb.labels...)
}

func (nb *NaiveBayes) Total() int {
	return nb.counts.total
}

func (nb *NaiveBayes) ClassCount(label string) int {
	return nb.counts.classes[label]
}

func (nb *NaiveBayes) CoOccurrence(f Feature, label, value string) int {
	if f < 0 || f >= featureCount {
		return 0
	}
	return nb.counts.features[f][featureKey{label: label, value: value}]
}

// VocabularySize is the number of distinct (label, value) keys seen for f
// across all labels.
func (nb *NaiveBayes) VocabularySize(f Feature) int {
	if f < 0 || f >= featureCount {
		return 0
	}
	return len(nb.counts.features[f])
}

func (nb *NaiveBayes) Prior(label string) (float64, error) {
	if nb.counts.total == 0 {
		return 0, ErrEmptyModel
	}
	n := nb.counts.classes[label]
	if n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	return float64(n) / float64(nb.counts.total), nil
}

// FeatureProbability returns the add-one smoothed P(value | label) for f.
func (nb *NaiveBayes) FeatureProbability(f Feature, value, label string) (float64, error) {
	if f < 0 || f >= featureCount {
		return 0, fmt.Errorf("unknown feature %d", int(f))
	}
	classCount := nb.counts.classes[label]
	if classCount == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	co := nb.counts.features[f][featureKey{label: label, value: value}]
	return float64(co+1) / float64(classCount+len(nb.counts.features[f])), nil
}

// logScore is ln P(label) + sum ln P(value_f | label). label must be observed.
func (nb *NaiveBayes) logScore(record Record, label string) float64 {
	classCount := nb.counts.classes[label]
	score := math.Log(float64(classCount) / float64(nb.counts.total))
	for f := Feature(0); f < featureCount; f++ {
		table := nb.counts.features[f]
		co := table[featureKey{label: label, value: record.Value(f)}]
		score += math.Log(float64(co+1) / float64(classCount+len(table)))
	}
	return score
}

// Predict returns the label with the highest posterior score. Labels are
// scanned in ascending order and only a strictly greater score replaces the
// current best, so exact ties go to the lexicographically smallest label.
func (nb *NaiveBayes) Predict(record Record) (string, error) {
	if len(nb.labels) == 0 {
		return "", ErrEmptyModel
	}
	best := nb.labels[0]
	bestScore := math.Inf(-1)
	for _, label := range nb.labels {
		if score := nb.logScore(record, label); score > bestScore {
			best, bestScore = label, score
		}
	}
	return best, nil
}

type LabelScore struct {
	Label       string  `json:"label"`
	LogScore    float64 `json:"log_score"`
	Probability float64 `json:"probability"`
}

type Prediction struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	Scores     []LabelScore `json:"scores"`
}

// Classify is Predict plus normalised posteriors for every label.
func (nb *NaiveBayes) Classify(record Record) (Prediction, error) {
	if len(nb.labels) == 0 {
		return Prediction{}, ErrEmptyModel
	}

	scores := make([]LabelScore, len(nb.labels))
	bestIdx := 0
	maxScore := math.Inf(-1)
	for i, label := range nb.labels {
		s := nb.logScore(record, label)
		scores[i] = LabelScore{Label: label, LogScore: s}
		if s > maxScore {
			maxScore = s
			bestIdx = i
		}
	}

	// log-sum-exp
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s.LogScore - maxScore)
	}
	for i := range scores {
		scores[i].Probability = math.Exp(scores[i].LogScore-maxScore) / sum
	}

	return Prediction{
		Label:      scores[bestIdx].Label,
		Confidence: scores[bestIdx].Probability,
		Scores:     scores,
	}, nil
}

type ModelSummary struct {
	TotalRecords   int            `json:"total_records"`
	ClassCounts    map[string]int `json:"class_counts"`
	VocabularySize map[string]int `json:"vocabulary_size"`
}

func (nb *NaiveBayes) Summary() ModelSummary {
	summary := ModelSummary{
		TotalRecords:   nb.counts.total,
		ClassCounts:    make(map[string]int, len(nb.counts.classes)),
		VocabularySize: make(map[string]int, featureCount),
	}
	for label, n := range nb.counts.classes {
		summary.ClassCounts[label] = n
	}
	for f := Feature(0); f < featureCount; f++ {
		summary.VocabularySize[f.String()] = len(nb.counts.features[f])
	}
	return summary
}
