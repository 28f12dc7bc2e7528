package ml

import (
	"fmt"
	"strings"
)

// MissingValue is the token substituted for any field absent from the source row.
const MissingValue = "Data missing"

type Feature int

const (
	JunctionControl Feature = iota
	JunctionDetail
	LightConditions
	RoadSurfaceConditions
	WeatherConditions
	VehicleType

	featureCount
)

var featureNames = [featureCount]string{
	"junctionControl",
	"junctionDetail",
	"lightConditions",
	"roadSurfaceConditions",
	"weatherConditions",
	"vehicleType",
}

func (f Feature) String() string {
	if f < 0 || f >= featureCount {
		return fmt.Sprintf("Feature(%d)", int(f))
	}
	return featureNames[f]
}

// Features returns every feature in declaration order.
func Features() []Feature {
	features := make([]Feature, featureCount)
	for i := range features {
		features[i] = Feature(i)
	}
	return features
}

func ParseFeature(name string) (Feature, error) {
	for i, n := range featureNames {
		if n == name {
			return Feature(i), nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", name)
}

// Record is one accident row projected to the six features and the severity label.
type Record struct {
	JunctionControl       string `json:"junction_control"`
	JunctionDetail        string `json:"junction_detail"`
	LightConditions       string `json:"light_conditions"`
	RoadSurfaceConditions string `json:"road_surface_conditions"`
	WeatherConditions     string `json:"weather_conditions"`
	VehicleType           string `json:"vehicle_type"`
	AccidentSeverity      string `json:"accident_severity,omitempty"`
}

func (r Record) Value(f Feature) string {
	switch f {
	case JunctionControl:
		return r.JunctionControl
	case JunctionDetail:
		return r.JunctionDetail
	case LightConditions:
		return r.LightConditions
	case RoadSurfaceConditions:
		return r.RoadSurfaceConditions
	case WeatherConditions:
		return r.WeatherConditions
	case VehicleType:
		return r.VehicleType
	default:
		return ""
	}
}

// Unlabeled returns a copy of the record with the severity cleared.
func (r Record) Unlabeled() Record {
	r.AccidentSeverity = ""
	return r
}

// Fill trims feature fields and replaces blank ones with MissingValue,
// matching what the loader produces for a CSV row.
func (r Record) Fill() Record {
	for _, field := range []*string{
		&r.JunctionControl,
		&r.JunctionDetail,
		&r.LightConditions,
		&r.RoadSurfaceConditions,
		&r.WeatherConditions,
		&r.VehicleType,
	} {
		*field = strings.TrimSpace(*field)
		if *field == "" {
			*field = MissingValue
		}
	}
	return r
}
