// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output on stderr for machine parsing
//   - Development: colored console output for humans
//
// Each component logs under its own name and may run at its own level, so
// the fetch path can be traced at debug while everything else stays quiet:
//
//	logger, err := logging.New(logging.Config{Level: "info", Components: "fetch=debug"})
//	fetchLog := logger.Component("fetch")
//	fetchLog.Debug("request started", zap.Uint32("rid", 7))
//
// Stdout is left alone because the host application that embeds the bridge
// usually owns it.
package logging
