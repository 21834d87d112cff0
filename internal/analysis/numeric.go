package analysis

import (
	"errors"
	"math"

	"github.com/montanaflynn/stats"
)

var (
	// ErrEmptyInput is returned for an empty number sequence.
	ErrEmptyInput = errors.New("numbers must not be empty")

	// ErrInsufficientData is returned when the sample standard deviation
	// is undefined, i.e. for fewer than two numbers.
	ErrInsufficientData = errors.New("standard deviation requires at least two numbers")

	// ErrOutOfRange is returned when a statistic overflows float64.
	ErrOutOfRange = errors.New("numeric result out of range")
)

// NumericAnalysis holds descriptive statistics of a number sequence.
type NumericAnalysis struct {
	Count             int     `json:"count"`
	Minimum           float64 `json:"minimum"`
	Maximum           float64 `json:"maximum"`
	Mean              float64 `json:"mean"`
	Median            float64 `json:"median"`
	StandardDeviation float64 `json:"standard_deviation"`
}

// Numeric computes count, min, max, mean, median and the sample standard
// deviation of numbers. The input slice is not modified.
func Numeric(numbers []float64) (NumericAnalysis, error) {
	if len(numbers) == 0 {
		return NumericAnalysis{}, ErrEmptyInput
	}
	if len(numbers) < 2 {
		return NumericAnalysis{}, ErrInsufficientData
	}

	data := stats.Float64Data(numbers)
	res := NumericAnalysis{Count: data.Len()}

	var err error
	if res.Minimum, err = data.Min(); err != nil {
		return NumericAnalysis{}, err
	}
	if res.Maximum, err = data.Max(); err != nil {
		return NumericAnalysis{}, err
	}
	if res.Mean, err = data.Mean(); err != nil {
		return NumericAnalysis{}, err
	}
	// Median sorts a copy
	if res.Median, err = data.Median(); err != nil {
		return NumericAnalysis{}, err
	}
	if res.StandardDeviation, err = data.StandardDeviationSample(); err != nil {
		return NumericAnalysis{}, err
	}

	for _, v := range []float64{res.Mean, res.StandardDeviation, res.Median} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return NumericAnalysis{}, ErrOutOfRange
		}
	}

	// Summation error can push the mean a hair outside the range.
	res.Mean = math.Min(math.Max(res.Mean, res.Minimum), res.Maximum)

	return res, nil
}
