package main

import (
	"fmt"

	"github.com/genodego/core/account"
	"github.com/genodego/core/capability"
	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/rpc"
	"github.com/genodego/core/service"
	"github.com/genodego/core/session"
)

// server bundles the six per-resource services core announces to its
// children (the root PD, which also serves RAM, among them), plus the router that answers the parent
// protocol's session() requests against them (§4.4-4.9).
type server struct {
	RootPD *service.PD
	ROM    *service.ROM
	IOMem  *service.IOMem
	IOPort *service.IOPort
	IRQ    *service.IRQ
	CPU    *service.CPU
	Router *session.Router

	ep     *rpc.Entrypoint
	romCap capability.Capability
}

// newServer constructs every service over kern, charged to rootRAM/rootCaps,
// and announces each to a fresh router.
func newServer(kern kernelobj.Kernel, rootRAM, rootCaps *account.Guard, boot map[string][]byte) (*server, error) {
	rootPD, err := service.NewPD(kern, rootRAM, rootCaps)
	if err != nil {
		return nil, fmt.Errorf("creating root PD: %w", err)
	}
	if err := account.Transfer(rootRAM, rootPD.RAM, rootRAM.Limit()); err != nil {
		return nil, fmt.Errorf("funding root PD RAM: %w", err)
	}
	if err := account.Transfer(rootCaps, rootPD.Caps, rootCaps.Limit()); err != nil {
		return nil, fmt.Errorf("funding root PD caps: %w", err)
	}

	rom := service.NewROM(boot)
	ep := rpc.New(16)
	romCap, err := rootPD.AllocRPCCap(capability.Capability{})
	if err != nil {
		return nil, fmt.Errorf("allocating ROM RPC capability: %w", err)
	}
	rom.Bind(ep, romCap.Selector())

	iomem, err := service.NewIOMem([][2]uint64{{0xFEE0_0000, 0x0010_0000}})
	if err != nil {
		return nil, fmt.Errorf("creating IO_MEM service: %w", err)
	}
	ioport, err := service.NewIOPort([][2]uint64{{0, 0x1_0000}}, nil)
	if err != nil {
		return nil, fmt.Errorf("creating IO_PORT service: %w", err)
	}
	irq := service.NewIRQ(kern)
	cpu := service.NewCPU(kern, rootCaps, 1000)

	router := session.NewRouter(localOnlyPolicy{}, rootPD.RAM, rootPD.Caps)
	router.AnnounceLocal("PD", func(label, args, affinity string) error { return nil })
	router.AnnounceLocal("CPU", func(label, args, affinity string) error { return nil })
	router.AnnounceLocal("ROM", func(label, args, affinity string) error {
		_, err := rom.Request(label)
		return err
	})
	router.AnnounceLocal("IO_MEM", func(label, args, affinity string) error { return nil })
	router.AnnounceLocal("IO_PORT", func(label, args, affinity string) error { return nil })
	router.AnnounceLocal("IRQ", func(label, args, affinity string) error { return nil })

	return &server{
		RootPD: rootPD,
		ROM:    rom,
		IOMem:  iomem,
		IOPort: ioport,
		IRQ:    irq,
		CPU:    cpu,
		Router: router,
		ep:     ep,
		romCap: romCap,
	}, nil
}

// FetchROM retrieves a boot module's content through the server's
// entrypoint rather than in-process, exercising the same compressed
// wire path a real client's ROM session stub would use.
func (s *server) FetchROM(name string) ([]byte, error) {
	return service.FetchContent(s.ep, s.romCap.Selector(), name)
}

// localOnlyPolicy routes every session request to a locally announced
// service, the simplest policy a standalone core instance can run with
// no children of its own configured yet.
type localOnlyPolicy struct{}

func (localOnlyPolicy) Resolve(serviceName, label string) (session.Target, string, error) {
	return session.TargetLocal, "", nil
}
