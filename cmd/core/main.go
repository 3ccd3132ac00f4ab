// Command core boots the root resource server: it constructs the root
// RAM/cap accounts and allocators over a simulated platform, registers
// the six per-resource services (PD, which also serves RAM, CPU, ROM,
// IO_MEM, IO_PORT and IRQ), and serves the parent protocol to
// whatever children a launcher spawns against it.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/genodego/core/account"
	"github.com/genodego/core/allocator"
	"github.com/genodego/core/corelog"
	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/platform"
)

type options struct {
	RAMLimit uint64 `long:"ram-limit" description:"total bytes of RAM core may hand out" default:"268435456"`
	CapLimit uint64 `long:"cap-limit" description:"total capability slots core may hand out" default:"65536"`
	ModuleDB string `long:"module-db" description:"path to the bbolt-backed boot module store" default:"core-modules.db"`
	LogLevel string `long:"log-level" description:"DEBUG, INFO, WARN, ERROR, CRITICAL, FATAL, or OFF" default:"INFO"`
}

func run() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		return err
	}

	logger := corelog.New(os.Stdout)
	if err := logger.SetLevelString(opts.LogLevel); err != nil {
		return fmt.Errorf("core: %w", err)
	}
	logger.Infof("booting root resource server")

	store, err := platform.OpenStore(opts.ModuleDB)
	if err != nil {
		return fmt.Errorf("core: opening module store: %w", err)
	}
	defer store.Close()

	mods, err := store.LoadModules()
	if err != nil {
		return fmt.Errorf("core: loading boot modules: %w", err)
	}
	boot := make(map[string][]byte, len(mods))
	for _, m := range mods {
		boot[m.Name] = m.Content
	}
	logger.Infof("loaded %d boot modules", len(mods))

	rootRAM := account.NewRamGuard(opts.RAMLimit)
	rootCaps := account.NewCapGuard(opts.CapLimit)

	physRAM := allocator.NewRange(false)
	if err := physRAM.AddRange(0x0010_0000, opts.RAMLimit); err != nil {
		return fmt.Errorf("core: initializing physical allocator: %w", err)
	}

	kern := kernelobj.NewFake(true)
	srv, err := newServer(kern, rootRAM, rootCaps, boot)
	if err != nil {
		return fmt.Errorf("core: %w", err)
	}
	defer srv.RootPD.Destroy()
	defer srv.ep.Close()

	logger.Infof("registered services: PD, CPU, ROM, IO_MEM, IO_PORT, IRQ")
	logger.Infof("core ready, serving parent protocol")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Infof("shutting down")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "core:", err)
		os.Exit(1)
	}
}
