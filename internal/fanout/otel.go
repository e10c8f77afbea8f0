package fanout

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rescuenet/dispatch/internal/fanout"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
