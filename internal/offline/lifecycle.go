package offline

import (
	"context"
	"errors"

	"github.com/hyp3rd/ewrap"
)

var (
	ErrInstallFailed = ewrap.New("install failed")
	ErrNotInstalled  = ewrap.New("coordinator is not installed")
)

// Phase is the coordinator lifecycle position.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseInstalled
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseInstalled:
		return "installed"
	case PhaseActive:
		return "active"
	default:
		return "new"
	}
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Controlling reports whether requests are intercepted.
func (c *Coordinator) Controlling() bool { return c.Phase() == PhaseActive }

// Start installs and, once skip-waiting was requested, activates.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Install(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	skip := c.skipWaiting
	c.mu.Unlock()
	if !skip {
		return nil
	}
	return c.Activate(ctx)
}

// Install fetches every static asset and stores them in the static bucket as
// one batch. Nothing is stored unless every asset was fetched with a 2xx.
func (c *Coordinator) Install(ctx context.Context) error {
	c.log.Info("installing", "bucket", c.static.Name(), "assets", len(c.assets))

	snaps := make(map[string]Snapshot, len(c.assets))
	for _, asset := range c.assets {
		req, err := newGetRequest(ctx, asset)
		if err != nil {
			return errors.Join(ErrInstallFailed, err)
		}
		s, err := c.fetchNetwork(ctx, req)
		if err != nil {
			c.log.Error("install: fetch asset", "url", asset, "err", err)
			return errors.Join(ErrInstallFailed, err)
		}
		if !s.OK() {
			c.log.Error("install: asset status", "url", asset, "status", s.Status)
			return ewrap.Wrapf(ErrInstallFailed, "%s: status %d", asset, s.Status)
		}
		snaps[asset] = s
	}
	if err := c.static.PutAll(snaps); err != nil {
		return errors.Join(ErrInstallFailed, err)
	}

	c.mu.Lock()
	if c.phase == PhaseNew {
		c.phase = PhaseInstalled
	}
	c.skipWaiting = true
	c.mu.Unlock()
	c.log.Info("static assets cached", "bucket", c.static.Name(), "entries", c.static.Len())
	return nil
}

// Activate purges buckets left by other builds of this application, then
// takes control of every request.
func (c *Coordinator) Activate(ctx context.Context) error {
	if c.Phase() == PhaseNew {
		return ErrNotInstalled
	}

	names, err := c.caches.Names()
	if err != nil {
		return ewrap.Wrap(err, "list buckets")
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == c.static.Name() || name == c.dynamic.Name() || !hasNamespace(name, c.namespace) {
			continue
		}
		if _, err := c.caches.Delete(name); err != nil {
			return ewrap.Wrapf(err, "delete bucket %s", name)
		}
		c.log.Info("deleted old bucket", "bucket", name)
	}

	c.mu.Lock()
	c.phase = PhaseActive
	c.mu.Unlock()
	c.log.Info("activated", "static", c.static.Name(), "dynamic", c.dynamic.Name())
	return nil
}

// SkipWaiting requests activation without delay. An installed coordinator
// activates immediately.
func (c *Coordinator) SkipWaiting(ctx context.Context) error {
	c.mu.Lock()
	c.skipWaiting = true
	phase := c.phase
	c.mu.Unlock()
	if phase != PhaseInstalled {
		return nil
	}
	return c.Activate(ctx)
}

// Buckets lists every registered bucket name.
func (c *Coordinator) Buckets() ([]string, error) { return c.caches.Names() }
