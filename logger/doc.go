// Package logger provides structured logging capabilities.
//
// The logger package builds the zap logger shared by the runner, and
// defines the field names every component uses so a single request can be
// followed across the orchestrator, the process runner and the boundary.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("runner started")
//	log.With(logger.RequestID(id)).Error("workspace cleanup failed", zap.Error(err))
package logger
