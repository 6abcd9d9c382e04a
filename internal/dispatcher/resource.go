package dispatcher

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultRequestMB and DefaultRequestMilli are the per-dimension request
// values used when computing min(limit, DEFAULT_REQUEST).
const (
	DefaultRequestMB    = 128
	DefaultRequestMilli = 100
)

// ParseMemoryMB converts a Kubernetes-style memory string to megabytes,
// reproducing the source's suffix handling bit-for-bit: Ti/Gi/Mi/Ki are
// powers of 1024, an unsuffixed value is bytes.
func ParseMemoryMB(s string) (int64, error) {
	switch {
	case strings.HasSuffix(s, "Ti"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "Ti"), 64)
		if err != nil {
			return 0, fmt.Errorf("op=ParseMemoryMB: %w", err)
		}
		return int64(v * 1024 * 1024), nil
	case strings.HasSuffix(s, "Gi"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "Gi"), 64)
		if err != nil {
			return 0, fmt.Errorf("op=ParseMemoryMB: %w", err)
		}
		return int64(v * 1024), nil
	case strings.HasSuffix(s, "Mi"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "Mi"), 64)
		if err != nil {
			return 0, fmt.Errorf("op=ParseMemoryMB: %w", err)
		}
		return int64(v), nil
	case strings.HasSuffix(s, "Ki"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "Ki"), 64)
		if err != nil {
			return 0, fmt.Errorf("op=ParseMemoryMB: %w", err)
		}
		return int64(v / 1024), nil
	default:
		bytes, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("op=ParseMemoryMB: %w", err)
		}
		return bytes / 1024 / 1024, nil
	}
}

// ParseCPUMillicores converts a Kubernetes-style CPU string to millicores.
// Suffix "m" is millicores directly; otherwise the value is float cores,
// scaled by 1000 and truncated.
func ParseCPUMillicores(s string) (int64, error) {
	if strings.HasSuffix(s, "m") {
		v, err := strconv.ParseInt(strings.TrimSuffix(s, "m"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("op=ParseCPUMillicores: %w", err)
		}
		return v, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("op=ParseCPUMillicores: %w", err)
	}
	return int64(v * 1000), nil
}

// RequestFor returns min(limit, DEFAULT_REQUEST) so a unit's resource
// request never exceeds its limit.
func RequestFor(limit, defaultRequest int64) int64 {
	if limit < defaultRequest {
		return limit
	}
	return defaultRequest
}
