// Package logx configures the engine's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - JSON output structured for machine sinks
//   - A safe zero value (the zero Logger and Nop() never write)
package logx
