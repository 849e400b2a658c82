package binding

import (
	"errors"
	"fmt"

	"scriptfilter/internal/config"
	"scriptfilter/internal/interp"
)

// Controller applies configuration to one Binding: the initial bind at
// filter activation and every later reconfiguration.
type Controller struct {
	b    *Binding
	host *interp.Host
}

func NewController(b *Binding, host *interp.Host) *Controller {
	return &Controller{b: b, host: host}
}

func (c *Controller) Binding() *Binding { return c.b }

// Bind performs the initial load. ErrScriptMissing leaves the binding
// disabled; any other error means the bind failed.
func (c *Controller) Bind(fc config.FilterConfig) error {
	return c.apply(fc, false)
}

// Reconfigure parses a category blob and re-applies it. The same script
// identity reloads the resident module in place; a different one is imported
// fresh. A blob that cannot be parsed leaves the binding untouched.
func (c *Controller) Reconfigure(blob string) error {
	c.b.log.Debug("reconfigure", "config", blob)
	cat, err := config.ParseCategory(c.b.name, blob)
	if err != nil {
		return err
	}
	return c.apply(cat.FilterConfig(), true)
}

func (c *Controller) apply(fc config.FilterConfig, reload bool) error {
	b := c.b
	b.Lock()
	defer b.Unlock()
	if b.state == StateShutdown {
		return ErrShutdown
	}
	b.ApplyFlags(fc)
	if err := b.SetScriptName(fc.ScriptRef); err != nil {
		b.log.Warn("filter called without a script; check the script item", "err", err)
		return err
	}
	err := c.host.WithExclusive(func(s *interp.Session) error {
		if reload {
			return b.Reload(s)
		}
		return b.Load(s)
	})
	if err != nil {
		// token-level failures never reached the binding's own fail path
		if errors.Is(err, interp.ErrNotRunning) || errors.Is(err, interp.ErrPanic) {
			b.clear(StateFailed)
		}
		return fmt.Errorf("filter %q: %w", b.name, err)
	}
	return nil
}
