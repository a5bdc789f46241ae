package session

import (
	"regexp"
	"strings"
	"unicode"
)

var volumeUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// NormalizeUser strips all whitespace from a username and lower-cases it.
// The operation is idempotent.
func NormalizeUser(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// ContainerName returns the workload name for a repo/user pair. The user is
// expected to be normalized already.
func ContainerName(repoName, userName string) string {
	return repoName + "_" + userName
}

// ImageName returns the image tag derived from a repository name.
func ImageName(repoName string) string {
	return strings.ToLower(repoName)
}

// VolumeName returns the durable volume name for a data kind and user,
// restricted to [A-Za-z0-9_].
func VolumeName(product, kind, userName string) string {
	return volumeUnsafe.ReplaceAllString(product+"_"+kind+"_"+userName, "_")
}
