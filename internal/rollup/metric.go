package rollup

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidArgument marks a query argument rejected before reaching a store.
var ErrInvalidArgument = errors.New("invalid argument")

// Metric is a column of the method summary that results can be ranked by.
type Metric uint8

const (
	TotalTime Metric = iota + 1
	TotalOwnTime
	CallCount
)

var metricNames = [...]string{
	TotalTime:    "total_time",
	TotalOwnTime: "total_own_time",
	CallCount:    "call_count",
}

// Metrics lists every rankable metric.
func Metrics() []Metric { return []Metric{TotalTime, TotalOwnTime, CallCount} }

// MetricNames lists the accepted spellings of every metric.
func MetricNames() []string {
	names := make([]string, 0, len(metricNames))
	for _, m := range Metrics() {
		names = append(names, m.String())
	}
	return names
}

// ParseMetric resolves a user supplied name to a Metric.
func ParseMetric(name string) (Metric, error) {
	for _, m := range Metrics() {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, errors.Mark(
		errors.Newf("unknown metric %q (want one of %s)", name, strings.Join(MetricNames(), ", ")),
		ErrInvalidArgument)
}

// Valid reports whether m is one of the defined metrics.
func (m Metric) Valid() bool { return m >= TotalTime && m <= CallCount }

func (m Metric) String() string {
	if !m.Valid() {
		return "metric(" + strconv.Itoa(int(m)) + ")"
	}
	return metricNames[m]
}

// Check returns an ErrInvalidArgument error for metrics outside the defined set.
func (m Metric) Check() error {
	if !m.Valid() {
		return errors.Mark(errors.Newf("unknown metric %d", m), ErrInvalidArgument)
	}
	return nil
}

// CheckLimit rejects row limits that are not positive.
func CheckLimit(limit int) error {
	if limit < 1 {
		return errors.Mark(errors.Newf("limit must be positive, got %d", limit), ErrInvalidArgument)
	}
	return nil
}
