// Package client calls a remote runner over its HTTP API.
//
// A Client posts submissions to /run, adding the shared secret header when
// one is configured, and decodes the JSON result.
package client
