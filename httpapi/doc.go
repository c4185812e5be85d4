// Package httpapi exposes the runner over HTTP.
//
// Routes:
//
//	POST /run      run one submission, JSON in and out
//	GET  /healthz  liveness probe
//
// When a shared secret is configured every /run request must carry it in
// the X-JP-Secret header.
package httpapi
