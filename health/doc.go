// Package health reports whether a cache client can still make progress.
//
// Two checks cover the client: NewSchedulerChecker fails once the update
// loop halted on a fatal error (for example an exceeded flush depth), and
// NewErrorRatioChecker degrades as the share of errored entries grows.
// Combine folds several checks into one whose status is the worst of its
// parts.
//
//	check := health.Combine("swrcache",
//	    health.NewSchedulerChecker(sched, 0),
//	    health.NewErrorRatioChecker(client, health.ErrorRatioConfig{}),
//	)
//	health.RegisterHandlers(mux, check)
//
// The handlers follow the usual Kubernetes layout: /healthz (liveness), /readyz
// (readiness; degraded is still ready) and /health (JSON detail).
package health
