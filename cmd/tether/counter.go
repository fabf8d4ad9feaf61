package main

import (
	"context"
	"time"

	"github.com/vango-dev/tether/pkg/link"
	"github.com/vango-dev/tether/pkg/server"
	"github.com/vango-dev/tether/pkg/trigger"
	"github.com/vango-dev/tether/pkg/typed"
)

// Counter is the demo state, published as demo__Counter__* keys.
type Counter struct {
	Count     int
	Step      int
	Label     string
	UpdatedAt time.Time
}

// milestone is the count at which the label changes.
const milestone = 100

// registerCounter installs the demo triggers:
//
//	increment([by])  adds by (default Step) to Count, returns the new count
//	reset()          sets Count back to 0
//	step(n)          sets Step
func registerCounter(srv *server.Server) error {
	counter, err := typed.New[Counter](srv.State(), "demo")
	if err != nil {
		return err
	}
	if err := counter.SetDefaults(Counter{Step: 1, Label: "clicks"}); err != nil {
		return err
	}

	srv.Controllers().Register("counter.reset", func(ctx context.Context, args ...any) (any, error) {
		c, err := counter.Get()
		if err != nil {
			return nil, err
		}
		c.Count = 0
		c.Label = "clicks"
		c.UpdatedAt = time.Now()
		return 0, counter.Set(c)
	})

	triggers := srv.Triggers()
	if err := triggers.Register("increment", func(ctx context.Context, call *trigger.Call) (any, error) {
		c, err := counter.Get()
		if err != nil {
			return nil, err
		}
		by := c.Step
		if call.NumArgs() > 0 {
			if err := call.Arg(0, &by); err != nil {
				return nil, err
			}
		}
		c.Count += by
		c.UpdatedAt = time.Now()
		return c.Count, counter.Set(c)
	}); err != nil {
		return err
	}
	if err := triggers.Register("reset", func(ctx context.Context, call *trigger.Call) (any, error) {
		return srv.Controllers().Call(ctx, "counter.reset")
	}); err != nil {
		return err
	}
	if err := triggers.Register("step", func(ctx context.Context, call *trigger.Call) (any, error) {
		var n int
		if err := call.Arg(0, &n); err != nil {
			return nil, err
		}
		return n, typed.SetField(counter, n, "Step")
	}); err != nil {
		return err
	}

	if _, err := counter.OnChange(func(c Counter, changed []string) {
		if c.Count >= milestone && c.Label != "lots" {
			typed.SetField(counter, "lots", "Label")
		}
	}, "Count"); err != nil {
		return err
	}

	srv.OnClientConnected(func(ctx context.Context, client link.ClientID) error {
		srv.Logger().Info("counter client joined", "client", client)
		return nil
	})
	return nil
}
