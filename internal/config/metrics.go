package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type loadStage string

const (
	loadStageDotenv loadStage = "dotenv"
	loadStageLookup loadStage = "lookup"
)

// Instruments bind to the global meter provider on first use. authd loads
// config before observability starts, so its single load lands on the no-op
// provider; authctl and tests that install a provider first are recorded.
var (
	configMetricsOnce sync.Once
	configLoads       metric.Int64Counter
	configProblems    metric.Int64Histogram
)

func initConfigMetrics() {
	meter := otel.Meter("newsroom-auth-service/config")
	if c, err := meter.Int64Counter("config.load.events",
		metric.WithDescription("Configuration load attempts by outcome")); err == nil {
		configLoads = c
	}
	if h, err := meter.Int64Histogram("config.validation.problems",
		metric.WithDescription("Validation problems reported by one failed load")); err == nil {
		configProblems = h
	}
}

func recordConfigLoad(ctx context.Context, profile string, stage loadStage, err error) {
	configMetricsOnce.Do(initConfigMetrics)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	class := classifyConfigLoadError(stage, err)
	attrs := metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", class),
	)
	if configLoads != nil {
		configLoads.Add(ctx, 1, attrs)
	}
	if configProblems != nil && class == "validation" {
		configProblems.Record(ctx, int64(countProblems(err)), attrs)
	}
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

func classifyConfigLoadError(stage loadStage, err error) string {
	switch {
	case err == nil:
		return "none"
	case stage == loadStageDotenv:
		return "dotenv"
	case errors.Is(err, ErrInvalidConfig):
		return "validation"
	case errors.Is(err, ErrMalformedValue):
		return "parse"
	default:
		return "load"
	}
}

// countProblems walks joined errors so a Validate failure listing three
// variables counts as three.
func countProblems(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range joined.Unwrap() {
			if e == ErrInvalidConfig {
				continue
			}
			n += countProblems(e)
		}
		return max(n, 1)
	}
	if inner := errors.Unwrap(err); inner != nil {
		return countProblems(inner)
	}
	return 1
}
