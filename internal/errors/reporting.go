package errors

import (
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// hasActiveReporting gates the expensive auto-detection path in Build:
// as long as no telemetry backend has been configured via
// InitReporting, Build skips building the extra fields reportToTelemetry
// would need.
var hasActiveReporting atomic.Bool

// InitReporting configures the package's telemetry backend. Passing an
// empty dsn is a no-op (reporting stays disabled), matching sentry-go's
// own behavior for an empty DSN.
func InitReporting(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return err
	}
	hasActiveReporting.Store(true)
	return nil
}

// reportToTelemetry forwards ee to Sentry with its classification
// fields attached as tags/extras, skipping anything already marked
// reported so a retried Build doesn't double-report.
func reportToTelemetry(ee *EnhancedError) {
	if ee.IsReported() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", ee.GetCategory())
		scope.SetTag("priority", ee.GetPriority())
		for k, v := range ee.GetContext() {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(ee.GetError())
	})
	ee.MarkReported()
}
