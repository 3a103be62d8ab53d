// Package preflight runs the environment checks behind `verirag doctor`.
//
// The checks cover:
//   - Write access to the snapshot directory
//   - Free disk space for the snapshot (minimum 100MB)
//   - The snapshot itself: loadable, graph diagnostics, chunk/vector consistency
//   - The embedding provider and, when configured, the relevance judge
//
// Required checks that fail make the environment unusable; the others
// degrade retrieval (no vectors, no judge) and are reported as warnings.
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, target)
//	checker.PrintResults(results)
package preflight
