// Package docker implements domain.ClusterClient against a local Docker
// daemon. It stands in for a production container-orchestrator scheduler
// in development and test environments: one execution unit maps
// to one container instead of one cluster Job, and the daemon's registered
// OCI runtimes stand in for a RuntimeClass catalog.
package docker

import (
	"sync"
	"time"

	"github.com/docker/docker/client"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Config carries the adapter's own tunables.
type Config struct {
	// Namespace scopes the "app=evaluation" label selector to a logical
	// group of containers sharing a host daemon.
	Namespace string
	// ImageCatalogPath points at a YAML file shaped like the scheduler's
	// image-catalog config record (a list of {name, image, available, default}).
	ImageCatalogPath string
	ImageCatalogTTL  time.Duration
	// IsolationRuntimeName is the OCI runtime registered with the daemon
	// that provides strong sandboxing (e.g. "runsc" for gVisor).
	IsolationRuntimeName string
	FallbackImage        string
}

// Client implements domain.ClusterClient against the Docker Engine API.
type Client struct {
	cli *client.Client
	cfg Config

	mu                 sync.Mutex
	imageCatalog       []domain.CatalogImage
	imageCatalogAt     time.Time
	isolationAvailable *bool
}

// New constructs a Client using the standard Docker environment variables
// (DOCKER_HOST, DOCKER_TLS_VERIFY, DOCKER_CERT_PATH) for connection details.
func New(cfg Config) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if cfg.ImageCatalogTTL <= 0 {
		cfg.ImageCatalogTTL = 30 * time.Second
	}
	if cfg.IsolationRuntimeName == "" {
		cfg.IsolationRuntimeName = "runsc"
	}
	return &Client{cli: cli, cfg: cfg}, nil
}

// Close releases the underlying Docker API connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

var _ domain.ClusterClient = (*Client)(nil)
