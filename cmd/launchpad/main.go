// Command launchpad boots a flat set of children from a manifest and
// demonstrates routing one session request per declared route, printing
// each child's resulting state and quota usage.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/genodego/core/corelog"
	"github.com/genodego/core/manifest"
)

type options struct {
	Manifest string `long:"manifest" description:"path to the launch manifest" required:"true"`
	RAMLimit uint64 `long:"ram-limit" description:"total bytes of RAM launchpad may hand its children" default:"67108864"`
	CapLimit uint64 `long:"cap-limit" description:"total capability slots launchpad may hand its children" default:"4096"`
	LogLevel string `long:"log-level" description:"DEBUG, INFO, WARN, ERROR, CRITICAL, FATAL, or OFF" default:"INFO"`
}

func run() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		return err
	}

	logger := corelog.New(os.Stdout)
	if err := logger.SetLevelString(opts.LogLevel); err != nil {
		return fmt.Errorf("launchpad: %w", err)
	}

	m, err := manifest.Load(opts.Manifest)
	if err != nil {
		return fmt.Errorf("launchpad: loading manifest: %w", err)
	}
	logger.Infof("loaded manifest with %d children", len(m.Children))

	lp, err := New(logger, opts.RAMLimit, opts.CapLimit)
	if err != nil {
		return err
	}
	if err := lp.Start(m); err != nil {
		return fmt.Errorf("launchpad: %w", err)
	}

	ctx := context.Background()
	for _, c := range m.Children {
		for _, route := range c.Routes {
			s, err := lp.RouteSession(ctx, c.Name, route.ServiceName, c.Name, "", "", 4096, 1)
			if err != nil {
				logger.Warnf("%s: session(%s) -> %v", c.Name, route.ServiceName, err)
				continue
			}
			logger.Infof("%s: session(%s) -> %s (routed via %s)", c.Name, route.ServiceName, s.State(), route.Target)
		}
		pd, _ := lp.Child(c.Name)
		logger.Infof("%s: ram %d/%d caps %d/%d", c.Name, pd.UsedRAM(), pd.RAMQuota(), pd.UsedCaps(), pd.CapQuota())
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "launchpad:", err)
		os.Exit(1)
	}
}
