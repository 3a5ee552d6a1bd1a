package watcher

import "testing"

func TestMatcher_BareName(t *testing.T) {
	m := NewMatcher([]string{"node_modules", ".git"})

	tests := []struct {
		path string
		want bool
	}{
		{"node_modules", true},
		{"node_modules/react/index.js", true},
		{"src/node_modules/pkg/a.js", true},
		{"src/app.js", false},
		{"node_modules_backup/a.js", false},
		{".git", true},
		{".git/HEAD", true},
		{"src/.git/config", true},
		{".gitignore", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Excluded(tt.path); got != tt.want {
				t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_LiteralPath(t *testing.T) {
	m := NewMatcher([]string{"build/cache"})

	tests := []struct {
		path string
		want bool
	}{
		{"build/cache", true},
		{"build/cache/obj.o", true},
		{"build/cache2", false},
		{"build", false},
		{"src/build/cache", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Excluded(tt.path); got != tt.want {
				t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_WildcardBasename(t *testing.T) {
	m := NewMatcher([]string{"*.log"})

	tests := []struct {
		path string
		want bool
	}{
		{"run.log", true},
		{"logs/run.log", true},
		{"run.logx", false},
		{"run.log.bak", false},
		{"log", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Excluded(tt.path); got != tt.want {
				t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_WildcardWithSeparator(t *testing.T) {
	m := NewMatcher([]string{"logs/*.txt"})

	tests := []struct {
		path string
		want bool
	}{
		{"logs/a.txt", true},
		{"logs/sub/a.txt", true}, // * crosses separators in the anchored regexp
		{"a.txt", false},
		{"other/a.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Excluded(tt.path); got != tt.want {
				t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_MetacharactersEscaped(t *testing.T) {
	// The dot must not act as a regexp wildcard
	m := NewMatcher([]string{"*.log"})
	if m.Excluded("runxlog") {
		t.Error("pattern dot should be literal, runxlog must not match *.log")
	}

	m = NewMatcher([]string{"file+name*"})
	if !m.Excluded("file+name.txt") {
		t.Error("literal + should match")
	}
	if m.Excluded("fileename.txt") {
		t.Error("+ must not act as a regexp quantifier")
	}
}

func TestMatcher_EmptyAndBlankPatterns(t *testing.T) {
	m := NewMatcher([]string{"", "  ", ".git"})
	if m.Excluded("src/main.go") {
		t.Error("blank patterns must not match everything")
	}
	if !m.Excluded(".git/HEAD") {
		t.Error("remaining patterns should still work")
	}
}

func TestMatcher_BackslashNormalization(t *testing.T) {
	m := NewMatcher([]string{"node_modules"})
	if !m.Excluded(`node_modules\pkg\a.js`) {
		t.Error("backslash separators should be normalized before matching")
	}
}
