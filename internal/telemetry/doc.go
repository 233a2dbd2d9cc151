// Package telemetry owns the OpenTelemetry trace and metric pipelines for
// syspulse.
//
// # Overview
//
// A Lifecycle builds a tracer provider and a meter provider, exports them
// over OTLP to a local collector (traces on :4318, metrics on :4319) and
// optionally serves a Prometheus scrape handler. It also holds the runtime
// enabled flag and sample rate consulted by traced calls.
//
// # Usage
//
//	lc, err := telemetry.New(cfg, telemetry.WithLogger(logger), telemetry.WithSession(sess))
//	if err != nil {
//	    return err
//	}
//	if err := lc.Start(ctx); err != nil {
//	    return err
//	}
//	defer lc.Stop(ctx)
//
//	ctx, span := lc.Tracer().Start(ctx, "operation.get-stats")
//	defer span.End()
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  export: true
//	  protocol: http/protobuf
//	  sampling:
//	    rate: 1.0
//	  traces:
//	    endpoint: "localhost:4318"
//	    stdout: false
//	  metrics:
//	    endpoint: "localhost:4319"
//	    export_interval: "10s"
//	    prometheus: true
//	  shutdown:
//	    timeout: "5s"
//
// # Error Handling
//
// Telemetry failures do not crash the application. Start only fails on
// misuse; exporter failures are logged and leave the lifecycle degraded.
// Stop waits at most shutdown.timeout.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry(nil)
//	_, span := tt.Tracer().Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
