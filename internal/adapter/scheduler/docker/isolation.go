package docker

import (
	"context"
	"fmt"
)

// IsolationRuntimeAvailable reports whether the configured sandboxing OCI
// runtime is registered with the daemon, caching the result process-wide
// process-wide.
func (c *Client) IsolationRuntimeAvailable(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.isolationAvailable != nil {
		v := *c.isolationAvailable
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	info, err := c.cli.Info(ctx)
	if err != nil {
		return false, fmt.Errorf("op=docker.IsolationRuntimeAvailable: %w", err)
	}

	_, ok := info.Runtimes[c.cfg.IsolationRuntimeName]

	c.mu.Lock()
	c.isolationAvailable = &ok
	c.mu.Unlock()
	return ok, nil
}
