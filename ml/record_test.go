package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordFill(t *testing.T) {
	got := Record{
		JunctionControl:       "  Stop sign ",
		JunctionDetail:        "",
		LightConditions:       "\t",
		RoadSurfaceConditions: "Dry",
		WeatherConditions:     " Fine no high winds",
		VehicleType:           "Car\n",
		AccidentSeverity:      " Slight ",
	}.Fill()

	want := Record{
		JunctionControl:       "Stop sign",
		JunctionDetail:        MissingValue,
		LightConditions:       MissingValue,
		RoadSurfaceConditions: "Dry",
		WeatherConditions:     "Fine no high winds",
		VehicleType:           "Car",
		AccidentSeverity:      " Slight ",
	}
	assert.Equal(t, want, got)
}

func TestRecordUnlabeled(t *testing.T) {
	r := uniform("A", "Fatal")
	assert.Empty(t, r.Unlabeled().AccidentSeverity)
	assert.Equal(t, "Fatal", r.AccidentSeverity)
}
