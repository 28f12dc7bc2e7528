package ml

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(value, label string) Record {
	return Record{
		JunctionControl:       value,
		JunctionDetail:        value,
		LightConditions:       value,
		RoadSurfaceConditions: value,
		WeatherConditions:     value,
		VehicleType:           value,
		AccidentSeverity:      label,
	}
}

func sampleRecords() []Record {
	return []Record{
		{"Give way or uncontrolled", "T or staggered junction", "Daylight", "Dry", "Fine no high winds", "Car", "Slight"},
		{"Give way or uncontrolled", "Crossroads", "Darkness - lights lit", "Wet or damp", "Raining no high winds", "Car", "Serious"},
		{"Auto traffic signal", "Crossroads", "Daylight", "Dry", "Fine no high winds", "Motorcycle over 500cc", "Serious"},
		{MissingValue, "Not at junction or within 20 metres", "Darkness - no lighting", "Frost or ice", "Snowing no high winds", "Goods 7.5 tonnes mgw and over", "Fatal"},
		{"Give way or uncontrolled", "T or staggered junction", "Daylight", "Dry", MissingValue, "Car", "Slight"},
		{"Stop sign", "Roundabout", "Daylight", "Wet or damp", "Fine no high winds", "Bus or coach (17 or more pass seats)", "Slight"},
	}
}

func TestPredictSeparableLabels(t *testing.T) {
	model := Train([]Record{
		uniform("A", "Slight"),
		uniform("A", "Slight"),
		uniform("B", "Fatal"),
	})

	got, err := model.Predict(uniform("A", ""))
	require.NoError(t, err)
	assert.Equal(t, "Slight", got)

	got, err = model.Predict(uniform("B", ""))
	require.NoError(t, err)
	assert.Equal(t, "Fatal", got)
}

func TestPredictUnseenValues(t *testing.T) {
	model := Train([]Record{
		uniform("A", "Slight"),
		uniform("A", "Slight"),
		uniform("B", "Fatal"),
	})

	// Each feature has two keys, so unseen values score 1/(2+2) under
	// Slight and 1/(1+2) under Fatal; the smaller class wins here.
	got, err := model.Predict(uniform("C", ""))
	require.NoError(t, err)
	assert.Equal(t, "Fatal", got)

	slight := math.Log(2.0/3) + 6*math.Log(1.0/4)
	fatal := math.Log(1.0/3) + 6*math.Log(1.0/3)
	assert.InDelta(t, slight, model.logScore(uniform("C", ""), "Slight"), 1e-12)
	assert.InDelta(t, fatal, model.logScore(uniform("C", ""), "Fatal"), 1e-12)
}

func TestPredictEmptyModel(t *testing.T) {
	model := Train(nil)

	_, err := model.Predict(uniform("A", ""))
	require.ErrorIs(t, err, ErrEmptyModel)

	_, err = model.Classify(uniform("A", ""))
	require.ErrorIs(t, err, ErrEmptyModel)

	_, err = NewTrainer().Model().Predict(uniform("A", ""))
	require.ErrorIs(t, err, ErrEmptyModel)
}

func TestPredictTieBreakIsLexicographic(t *testing.T) {
	model := Train([]Record{
		uniform("A", "Slight"),
		uniform("A", "Fatal"),
		uniform("A", "Serious"),
	})

	for i := 0; i < 20; i++ {
		got, err := model.Predict(uniform("A", ""))
		require.NoError(t, err)
		assert.Equal(t, "Fatal", got)
	}
}

func TestTrainCounts(t *testing.T) {
	records := sampleRecords()
	model := Train(records)

	assert.Equal(t, len(records), model.Total())
	if diff := cmp.Diff(map[string]int{"Slight": 3, "Serious": 2, "Fatal": 1}, model.Summary().ClassCounts); diff != "" {
		t.Errorf("class counts mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 2, model.CoOccurrence(JunctionControl, "Slight", "Give way or uncontrolled"))
	assert.Equal(t, 1, model.CoOccurrence(WeatherConditions, "Slight", MissingValue))
	assert.Equal(t, 0, model.CoOccurrence(VehicleType, "Fatal", "Car"))

	// Per feature and label, co-occurrences sum to the class count.
	for _, f := range Features() {
		sums := make(map[string]int)
		for key, n := range model.counts.features[f] {
			sums[key.label] += n
		}
		for _, label := range model.Labels() {
			assert.Equal(t, model.ClassCount(label), sums[label], "feature %s label %s", f, label)
		}
	}
}

func TestTrainPermutationInvariant(t *testing.T) {
	records := sampleRecords()
	a := Train(records)
	b := Train(Shuffle(records, 7))

	if diff := cmp.Diff(a.counts, b.counts, cmp.AllowUnexported(counts{}, featureKey{})); diff != "" {
		t.Errorf("tables differ after permutation (-a +b):\n%s", diff)
	}
}

func TestTrainerAccumulatesAndResets(t *testing.T) {
	trainer := NewTrainer()
	trainer.Train([]Record{uniform("A", "Slight")})
	first := trainer.Model()

	trainer.Train([]Record{uniform("B", "Fatal"), uniform("A", "Slight")})
	second := trainer.Model()

	assert.Equal(t, 1, first.Total(), "snapshot must not see later training")
	assert.Equal(t, 3, second.Total())
	assert.Equal(t, 2, second.ClassCount("Slight"))

	trainer.Reset()
	assert.Equal(t, 0, trainer.Model().Total())
	assert.Equal(t, 3, second.Total())
}

func TestTrainerMatchesTrain(t *testing.T) {
	records := sampleRecords()
	trainer := NewTrainer()
	for _, r := range records {
		trainer.Observe(r)
	}
	if diff := cmp.Diff(Train(records).counts, trainer.Model().counts, cmp.AllowUnexported(counts{}, featureKey{})); diff != "" {
		t.Errorf("trainer diverged from Train (-want +got):\n%s", diff)
	}
}

func TestFeatureProbabilityBounds(t *testing.T) {
	model := Train(sampleRecords())
	values := []string{"Car", "Daylight", "Dry", MissingValue, "never seen", ""}

	for _, f := range Features() {
		for _, label := range model.Labels() {
			for _, v := range values {
				p, err := model.FeatureProbability(f, v, label)
				require.NoError(t, err)
				assert.Greater(t, p, 0.0)
				assert.LessOrEqual(t, p, 1.0)
			}
		}
	}
}

func TestFeatureProbabilityDenominator(t *testing.T) {
	records := sampleRecords()
	model := Train(records)

	for _, f := range Features() {
		keys := make(map[featureKey]struct{})
		for _, r := range records {
			keys[featureKey{label: r.AccidentSeverity, value: r.Value(f)}] = struct{}{}
		}
		k := len(keys)
		require.Equal(t, k, model.VocabularySize(f))

		for _, label := range model.Labels() {
			p, err := model.FeatureProbability(f, "never seen", label)
			require.NoError(t, err)
			assert.InDelta(t, 1.0/float64(model.ClassCount(label)+k), p, 1e-12, "feature %s label %s", f, label)
		}
	}

	p, err := model.FeatureProbability(JunctionControl, "Give way or uncontrolled", "Slight")
	require.NoError(t, err)
	assert.InDelta(t, 3.0/float64(3+model.VocabularySize(JunctionControl)), p, 1e-12)
}

func TestFeatureProbabilityUnknownLabel(t *testing.T) {
	model := Train(sampleRecords())
	_, err := model.FeatureProbability(VehicleType, "Car", "Catastrophic")
	require.ErrorIs(t, err, ErrUnknownLabel)

	_, err = model.Prior("Catastrophic")
	require.ErrorIs(t, err, ErrUnknownLabel)
}

func TestPriorsSumToOne(t *testing.T) {
	model := Train(sampleRecords())
	var sum float64
	for _, label := range model.Labels() {
		p, err := model.Prior(label)
		require.NoError(t, err)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPredictReturnsTrainedLabel(t *testing.T) {
	records := sampleRecords()
	model := Train(records)
	labels := make(map[string]bool)
	for _, l := range model.Labels() {
		labels[l] = true
	}

	probes := append(records, uniform("zzz", ""), uniform(MissingValue, ""), Record{})
	for _, r := range probes {
		got, err := model.Predict(r.Unlabeled())
		require.NoError(t, err)
		assert.True(t, labels[got], "unexpected label %q", got)
	}
}

func TestClassifyMatchesPredict(t *testing.T) {
	model := Train(sampleRecords())
	for _, r := range sampleRecords() {
		want, err := model.Predict(r)
		require.NoError(t, err)

		got, err := model.Classify(r)
		require.NoError(t, err)
		assert.Equal(t, want, got.Label)
		require.Len(t, got.Scores, len(model.Labels()))

		var total float64
		for _, s := range got.Scores {
			total += s.Probability
			assert.LessOrEqual(t, s.Probability, got.Confidence)
		}
		assert.InDelta(t, 1.0, total, 1e-9)
	}
}

func TestSummary(t *testing.T) {
	model := Train([]Record{uniform("A", "Slight"), uniform("B", "Fatal")})
	want := ModelSummary{
		TotalRecords: 2,
		ClassCounts:  map[string]int{"Slight": 1, "Fatal": 1},
		VocabularySize: map[string]int{
			"junctionControl":       2,
			"junctionDetail":        2,
			"lightConditions":       2,
			"roadSurfaceConditions": 2,
			"weatherConditions":     2,
			"vehicleType":           2,
		},
	}
	if diff := cmp.Diff(want, model.Summary()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}
