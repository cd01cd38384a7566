//go:build e2e

// Package operations runs the propsort binary end to end against the env
// and file sources, which need no external services. It covers one-shot
// rendering, signal handling and the health and metrics endpoints.
//
//	go test -v -tags=e2e ./test/e2e/...
package operations
