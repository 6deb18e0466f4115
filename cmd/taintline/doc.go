// Package taintline provides the command-line interface: scan, diff,
// list-rules, baseline and config helpers.
//
// Typical usage from a main package:
//
//	package main
//	import "github.com/taintline/taintline/cmd/taintline"
//	func main() { taintline.Execute() }
package taintline
