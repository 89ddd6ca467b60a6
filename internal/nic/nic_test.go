package nic

import (
	"testing"

	"github.com/xdpgeneric/xdpgeneric/internal/nic/afxdp"
	"github.com/xdpgeneric/xdpgeneric/internal/nic/fake"
	"github.com/xdpgeneric/xdpgeneric/internal/rx"
	"github.com/xdpgeneric/xdpgeneric/internal/tx"
)

func TestFakeDriverSatisfiesEveryCollaboratorInterface(t *testing.T) {
	var _ Driver = (*fake.Driver)(nil)
	var _ rx.Memory = (*fake.Driver)(nil)
	var _ rx.Releaser = (*fake.Driver)(nil)
	var _ rx.Redirector = (*fake.Driver)(nil)
	var _ tx.Driver = (*fake.Driver)(nil)
}

func TestAFXDPSocketSatisfiesDriver(t *testing.T) {
	var _ Driver = (*afxdp.Socket)(nil)
}
