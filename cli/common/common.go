package common

import (
	"context"

	uart2wifi "github.com/eehut/uart2wifi"
	"github.com/eehut/uart2wifi/internal/api"
	"github.com/eehut/uart2wifi/internal/repo"
)

// Common is shared by every cli command. The repo and service are
// only set inside a daemon process, other invocations reach the
// daemon through the api client.
type Common struct {
	Root    string
	Port    string
	Repo    repo.Repo
	Service *uart2wifi.Service
	Client  *api.Client
	Context context.Context
	Cancel  context.CancelFunc
}

// New prepares the shared state for one cli invocation.
func New(ctx context.Context, root, port string) *Common {
	ctx2, cancel := context.WithCancel(ctx)
	return &Common{
		Root:    root,
		Port:    port,
		Client:  api.NewClient(port),
		Context: ctx2,
		Cancel:  cancel,
	}
}
