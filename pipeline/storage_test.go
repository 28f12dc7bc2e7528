package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadsafe/ml"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(StorageConfig{DBPath: filepath.Join(t.TempDir(), "data", "roadsafe.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecords() []ml.Record {
	return []ml.Record{
		{JunctionControl: "Stop sign", JunctionDetail: "Roundabout", LightConditions: "Daylight", RoadSurfaceConditions: "Dry", WeatherConditions: "Fine no high winds", VehicleType: "Car", AccidentSeverity: "Slight"},
		{JunctionControl: ml.MissingValue, JunctionDetail: "Crossroads", LightConditions: "Darkness - no lighting", RoadSurfaceConditions: "Frost or ice", WeatherConditions: "Snowing no high winds", VehicleType: "Van / Goods 3.5 tonnes mgw or under", AccidentSeverity: "Fatal"},
		{JunctionControl: "Auto traffic signal", JunctionDetail: "Crossroads", LightConditions: "Daylight", RoadSurfaceConditions: "Wet or damp", WeatherConditions: "Raining no high winds", VehicleType: "Pedal cycle", AccidentSeverity: "Serious"},
	}
}

func TestStorageRecordsRoundTrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	records := testRecords()

	require.NoError(t, s.SaveBatch(ctx, "2021", records[:2]))
	require.NoError(t, s.SaveBatch(ctx, "2021", records[2:]))
	require.NoError(t, s.SaveBatch(ctx, "2022", records[:1]))

	got, err := s.LoadRecords(ctx, "2021")
	require.NoError(t, err)
	assert.Equal(t, records, got)

	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2021": 3, "2022": 1}, sources)

	n, err := s.DeleteSource(ctx, "2021")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err = s.LoadRecords(ctx, "2021")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// failInsertsOf makes any insert of a record with the given vehicle type abort.
func failInsertsOf(t *testing.T, s *Storage, vehicleType string) {
	t.Helper()
	_, err := s.db.Exec(`CREATE TRIGGER fail_insert BEFORE INSERT ON accident_records
        WHEN NEW.vehicle_type = '` + vehicleType + `'
        BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)
}

func TestStorageReplaceSource(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	records := testRecords()

	require.NoError(t, s.SaveBatch(ctx, "2021", records))
	require.NoError(t, s.SaveBatch(ctx, "2022", records[:1]))

	n, err := s.ReplaceSource(ctx, "2021", records[1:])
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := s.LoadRecords(ctx, "2021")
	require.NoError(t, err)
	assert.Equal(t, records[1:], got)

	other, err := s.LoadRecords(ctx, "2022")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestStorageReplaceSourceRollsBack(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	records := testRecords()
	require.NoError(t, s.SaveBatch(ctx, "2021", records))

	replacement := append([]ml.Record(nil), records...)
	replacement[2].VehicleType = "Tram"
	failInsertsOf(t, s, "Tram")

	_, err := s.ReplaceSource(ctx, "2021", replacement)
	require.Error(t, err)

	got, err := s.LoadRecords(ctx, "2021")
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestStorageSaveEmptyBatch(t *testing.T) {
	s := openTestStorage(t)
	assert.NoError(t, s.SaveBatch(context.Background(), "empty", nil))
}

func TestStorageEvaluations(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	older := &EvaluationRun{
		Source:        "accidents.csv",
		ModelName:     "naive_bayes",
		TrainFraction: 0.8,
		TrainSize:     80,
		TestSize:      20,
		Accuracy:      0.85,
		CreatedAt:     time.Unix(1700000000, 0),
	}
	newer := &EvaluationRun{
		Source:        "accidents.csv",
		ModelName:     "naive_bayes",
		TrainFraction: 0.7,
		Shuffled:      true,
		Seed:          42,
		TrainSize:     70,
		TestSize:      30,
		Accuracy:      0.8,
		Classes: []ml.ClassMetrics{
			{Label: "Fatal", Support: 2, Predicted: 1, Precision: 1, Recall: 0.5, F1: 2.0 / 3},
			{Label: "Slight", Support: 28, Predicted: 29, Precision: 0.8, Recall: 0.9, F1: 0.85},
		},
		CreatedAt: time.Unix(1700000500, 0),
	}
	require.NoError(t, s.SaveEvaluation(ctx, older))
	require.NoError(t, s.SaveEvaluation(ctx, newer))
	assert.NotEmpty(t, older.ID)
	assert.NotEqual(t, older.ID, newer.ID)

	runs, err := s.ListEvaluations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, *newer, runs[0])
	assert.Equal(t, older.ID, runs[1].ID)
	assert.Empty(t, runs[1].Classes)

	runs, err = s.ListEvaluations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, newer.ID, runs[0].ID)
}
