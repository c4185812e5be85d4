// Package sandbox runs untrusted source code: it provisions a per-request
// workspace, compiles the source, executes the artifact under nsjail and
// classifies the outcome.
//
// The Orchestrator sequences the stages and owns cleanup. Every stage below
// it is replaceable for tests: ProcessRunner spawns children, FileSystem
// touches the host filesystem and NsjailBuilder turns isolation settings
// into an argument vector without side effects.
//
// Usage:
//
//	runner, err := sandbox.NewRunner(logger, cfg)
//	result, err := runner.Run(ctx, sandbox.Request{
//	    Source: "public class Main { public static void main(String[] a) { System.out.println(\"hi\"); } }",
//	})
package sandbox
