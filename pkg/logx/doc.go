// Package logx configures idlebot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - The control panel's status log fed from the same call sites, via an
//     in-memory ring sink (see internal/logring)
//
// The Service can be re-Apply()ed at runtime; loggers handed out earlier
// keep following the current sinks and level.
package logx
