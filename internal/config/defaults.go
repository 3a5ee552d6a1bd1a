package config

// DefaultExcludePatterns is the canonical list of patterns excluded from
// watching and syncing when a session does not supply its own list. Entries
// without a wildcard match path segments; entries with `*` match by glob.
var DefaultExcludePatterns = []string{
	".git",
	".svn",
	".hg",
	".rdev",
	"node_modules",
	"vendor",
	"__pycache__",
	".venv",
	"venv",
	".idea",
	".vscode",
	"dist",
	"build",
	"target",
	".DS_Store",
	"Thumbs.db",
	"*.pyc",
	"*.swp",
	"*.swo",
	"*~",
}
