// Package logger wraps zap for the carbon-gate binary:
//   - a global sugared logger writing either console or JSON lines,
//   - context helpers (ToContext/FromContext/WithName/WithKV) so every cycle
//     carries its own scoped fields,
//   - level parsing and the usual Infof/WarnKV style shortcuts.
//
// Components never hold a logger of their own; they pull it from the context.
package logger
