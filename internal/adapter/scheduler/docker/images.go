package docker

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

type imageCatalogDoc struct {
	Images []domain.CatalogImage `yaml:"images"`
}

// ImageCatalog reads the executor image catalog from a local YAML file,
// caching the result for cfg.ImageCatalogTTL. A missing or
// unreadable file falls back to a single default entry rather than failing
// Execute outright.
func (c *Client) ImageCatalog(ctx context.Context) ([]domain.CatalogImage, error) {
	c.mu.Lock()
	if c.imageCatalog != nil && time.Since(c.imageCatalogAt) < c.cfg.ImageCatalogTTL {
		cached := c.imageCatalog
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	images, err := c.loadImageCatalog()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.imageCatalog = images
	c.imageCatalogAt = time.Now()
	c.mu.Unlock()
	return images, nil
}

func (c *Client) loadImageCatalog() ([]domain.CatalogImage, error) {
	if c.cfg.ImageCatalogPath == "" {
		return c.fallbackCatalog(), nil
	}

	data, err := os.ReadFile(c.cfg.ImageCatalogPath)
	if err != nil {
		return c.fallbackCatalog(), nil
	}

	var doc imageCatalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("op=docker.ImageCatalog path=%s: %w", c.cfg.ImageCatalogPath, err)
	}

	images := make([]domain.CatalogImage, 0, len(doc.Images))
	haveDefault := false
	for _, img := range doc.Images {
		images = append(images, img)
		if img.Default {
			haveDefault = true
		}
	}
	if len(images) == 0 {
		return c.fallbackCatalog(), nil
	}
	if !haveDefault {
		images[0].Default = true
	}
	return images, nil
}

func (c *Client) fallbackCatalog() []domain.CatalogImage {
	image := c.cfg.FallbackImage
	if image == "" {
		image = "python-executor"
	}
	return []domain.CatalogImage{{Name: "default", Image: image, Available: true, Default: true}}
}
