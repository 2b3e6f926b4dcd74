//go:build !linux

// On non-Linux hosts the native backend cannot exist (namespaces,
// cgroups, and pivot_root are Linux kernel facilities); Backend.
// IsAvailable always reports false so the selector in
// pkg/isolation/select.go falls through to the VM-mediated backend
// (spec.md §4.4: "Selection is automatic: Linux ⇒ native; otherwise ⇒
// VM").
package native

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/isolation"
)

type Backend struct{}

func New(cgroupRoot string, log *logrus.Logger) *Backend { return &Backend{} }

func (b *Backend) IsAvailable() bool { return false }

var errUnsupported = ctsterr.New(ctsterr.KindConfig, "", "the native isolation backend is not available on this platform")

func (b *Backend) Create(ctx context.Context, cfg isolation.Config) (id.ContainerID, error) {
	return "", errUnsupported
}
func (b *Backend) Start(ctx context.Context, cid id.ContainerID) (int, error) { return 0, errUnsupported }
func (b *Backend) Stop(ctx context.Context, cid id.ContainerID, force bool) error { return errUnsupported }
func (b *Backend) Exec(ctx context.Context, cid id.ContainerID, cmd []string, stdout, stderr io.Writer) error {
	return errUnsupported
}
func (b *Backend) Remove(ctx context.Context, cid id.ContainerID) error { return errUnsupported }
func (b *Backend) Logs(ctx context.Context, cid id.ContainerID) (string, error) {
	return "", errUnsupported
}
func (b *Backend) List(ctx context.Context) ([]isolation.Record, error) { return nil, errUnsupported }

var _ isolation.Backend = (*Backend)(nil)
