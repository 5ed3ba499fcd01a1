// Package logging provides the leveled logger used across lazythumb.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information (subscription ticks, cache hits)
//   - INFO: General operational messages
//   - WARN: Warning conditions (cache write failures, provider hiccups)
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the process
//
// The log level is configured via the LOG_LEVEL environment variable, or
// forced to debug with DEBUG=1. Components that log a lot use Component to
// get a prefixed Logger.
package logging
