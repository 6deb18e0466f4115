// Package engine runs scan sessions: it selects target files, fans them out
// over a bounded worker pool, matches each file against the loaded rules and
// aggregates the findings. This package is internal; external consumers
// should use the stable facade in pkg/core.
package engine
