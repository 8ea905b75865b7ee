package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// Prefix is the metrics prefix for the ledger daemon.
const Prefix = "ledgerd"

// Meter is the meter all ledgerd instruments hang off.
var Meter = metric.Must(global.Meter(Prefix))
