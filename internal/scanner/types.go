// Package scanner expands the paths given to ingestion into a sorted,
// de-duplicated list of supported document files.
package scanner

// DefaultMaxFileSize is the default maximum file size (100MB).
const DefaultMaxFileSize = 100 * 1024 * 1024

// Options configures Expand.
type Options struct {
	// Recursive descends into subdirectories. Otherwise only the top level
	// of each directory is read.
	Recursive bool

	// Include keeps only files whose path relative to the scanned directory
	// matches one of these doublestar patterns (empty = all).
	Include []string

	// Exclude drops files and directories matching these patterns.
	Exclude []string

	// Supports reports whether a file can be ingested. Files found inside
	// directories are kept only when it returns true; files named directly
	// are always kept so that ingestion reports them.
	Supports func(path string) bool

	// MaxFileSize skips larger files found inside directories (0 = default).
	MaxFileSize int64
}

// defaultExcludeDirs are never descended into.
var defaultExcludeDirs = []string{
	"**/.git",
	"**/.svn",
	"**/node_modules",
	"**/__pycache__",
	"**/.venv",
}

// Skipped is a file that Expand passed over, with the reason.
type Skipped struct {
	Path   string
	Reason string
}
