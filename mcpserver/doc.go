// Package mcpserver exposes the runner as a Model Context Protocol tool.
//
// The run_java_program tool accepts a complete Java source file with a
// public Main class, optional standard input and an optional execution
// timeout, and returns the run result as JSON text. It uses the
// mark3labs/mcp-go library for the protocol and can be served over stdio or
// streamable HTTP.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, runner)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
