// Package main is the entry point for the playground runner.
//
// The runner compiles and executes untrusted single-file Java programs.
// Each request gets a private workspace; the program runs under nsjail as a
// dedicated unprivileged user with resource limits and no network. The
// server speaks plain HTTP (POST /run) or the Model Context Protocol over
// stdio or HTTP, as selected by server.transport.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
