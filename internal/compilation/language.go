package compilation

import (
	"path/filepath"
	"strings"
)

// Language names recognized by the parsers.
const (
	LanguageGo         = "go"
	LanguagePython     = "python"
	LanguageTypeScript = "typescript"
	LanguageBash       = "bash"
)

// DetectLanguage maps a file extension to a language name, or "".
func DetectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return LanguageGo
	case ".py", ".pyi":
		return LanguagePython
	case ".ts", ".mts", ".cts", ".js", ".mjs":
		return LanguageTypeScript
	case ".sh", ".bash":
		return LanguageBash
	default:
		return ""
	}
}
