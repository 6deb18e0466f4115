// Package findings collects per-file results from concurrent workers,
// restores a deterministic order, summarizes them and compares two scans of
// the same code in diff mode.
package findings
