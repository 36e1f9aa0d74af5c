// Package version exposes build metadata of carbon-gate.
//
// Version, Commit and BuildTime are injected with -ldflags -X at build time.
// The same data feeds the CLI, the /version endpoint and the User-Agent of
// outbound requests.
package version
