// Package config provides application configuration management.
//
// The config package handles loading and validation of the runner's
// configuration from YAML files and JPRUNNER_* environment variables. It
// covers the network boundary, logging, request limits, the compile/run
// toolchain and the isolation tool invocation.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server transport: %s\n", cfg.Server.Transport)
package config
