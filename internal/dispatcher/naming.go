package dispatcher

import (
	"strings"

	"github.com/google/uuid"
)

// jobNamePrefixLen is the number of characters of the sanitised evaluation
// id kept before the random suffix.
const jobNamePrefixLen = 20

// sanitizeEvalID lowercases an evaluation id and replaces underscores with
// hyphens, matching the Kubernetes naming rules the job name must satisfy.
func sanitizeEvalID(evalID string) string {
	return strings.ToLower(strings.ReplaceAll(evalID, "_", "-"))
}

// GenerateJobName derives a deterministic, Kubernetes-compliant execution
// unit name from an evaluation id: lowercase, underscores to hyphens,
// truncated to 20 chars, followed by "-" and an 8 hex char suffix.
func GenerateJobName(evalID string) string {
	safe := sanitizeEvalID(evalID)
	if len(safe) > jobNamePrefixLen {
		safe = safe[:jobNamePrefixLen]
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return safe + "-" + suffix
}

// JobNamePrefix returns the prefix used to match all job names derived from
// evalID, useful for locating an evaluation's execution unit without
// knowing its random suffix.
func JobNamePrefix(evalID string) string {
	safe := sanitizeEvalID(evalID)
	if len(safe) > jobNamePrefixLen {
		safe = safe[:jobNamePrefixLen]
	}
	return safe + "-"
}

// ExtractEvalIDFromJobName returns the sanitised evaluation id embedded in a
// job name, or "" if the name doesn't have the expected "<prefix>-<suffix>"
// shape. The original id cannot be perfectly reconstructed if it contained
// underscores.
func ExtractEvalIDFromJobName(jobName string) string {
	idx := strings.LastIndex(jobName, "-")
	if idx < 0 {
		return ""
	}
	return jobName[:idx]
}
