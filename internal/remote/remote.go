// Package remote runs commands on worker nodes. The provisioning runner only
// depends on the Exec interface; the SSH implementation is the production
// transport.
package remote

import "context"

// Result is the outcome of one remote command. A non-zero ExitCode is not an
// error at this layer; errors are reserved for transport failures.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout and stderr concatenated, for operator diagnostics.
func (r Result) Combined() string {
	return r.Stdout + r.Stderr
}

type Exec interface {
	Run(ctx context.Context, command string) (Result, error)
}
