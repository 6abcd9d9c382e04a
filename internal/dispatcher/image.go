package dispatcher

import (
	"strings"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// ResolveExecutorImage maps a requested image name to a full registry path,
// a known short name from the catalog resolves to its
// full path, a string already containing "/" or ":" is treated as a full
// path, and anything else falls back to the catalog's default image.
func ResolveExecutorImage(requested string, catalog []domain.CatalogImage, registryPrefix, defaultTag string) string {
	image := lookupOrFallback(requested, catalog)

	if registryPrefix != "" && !strings.HasPrefix(image, registryPrefix) {
		image = registryPrefix + "/" + image
	}

	last := image
	if idx := strings.LastIndex(image, "/"); idx >= 0 {
		last = image[idx+1:]
	}
	if !strings.Contains(last, ":") {
		image = image + ":" + defaultTag
	}
	return image
}

func lookupOrFallback(requested string, catalog []domain.CatalogImage) string {
	var fallback string
	for _, img := range catalog {
		if img.Name == requested {
			return img.Image
		}
		if img.Default {
			fallback = img.Image
		}
	}
	if requested != "" && (strings.Contains(requested, "/") || strings.Contains(requested, ":")) {
		return requested
	}
	if fallback != "" {
		return fallback
	}
	if len(catalog) > 0 {
		return catalog[0].Image
	}
	return requested
}

// CatalogDefault returns the catalog's designated default image, falling
// back to the first entry when none is marked default.
func CatalogDefault(catalog []domain.CatalogImage) string {
	for _, img := range catalog {
		if img.Default {
			return img.Image
		}
	}
	if len(catalog) > 0 {
		return catalog[0].Image
	}
	return ""
}
