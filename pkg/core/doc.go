// Package core is a small, stable facade over taintline's internal engine
// for programs that embed the scanner. It re-exports a narrow API surface so
// integrations can depend on one import path.
//
// Example:
//
//	rep, err := core.Scan(ctx, core.Config{Root: "."})
//	if err != nil { /* handle */ }
//	_ = core.MarshalFindings(os.Stdout, rep.Findings)
package core
