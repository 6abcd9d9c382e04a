package app

import "strings"

// ResolveBlobDir strips a file:// scheme off the configured object-store
// URL, returning a filesystem path blob.NewFileStore can root itself at.
// Non-file schemes (a real object-store endpoint) are returned unchanged
// since only the file-backed adapter is implemented here.
func ResolveBlobDir(objectStoreURL string) string {
	return strings.TrimPrefix(objectStoreURL, "file://")
}
