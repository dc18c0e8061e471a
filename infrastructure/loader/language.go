package loader

import (
	"path/filepath"
	"strings"
)

// languageForFile infers a file's language from its extension, falling
// back to a shebang sniff for extension-less scripts.
func languageForFile(path, content string) string {
	if lang := languageFromExtension(extensionFromPath(path)); lang != "" {
		return lang
	}
	return languageFromShebang(content)
}

func languageFromExtension(ext string) string {
	switch ext {
	case "go":
		return "go"
	case "py":
		return "python"
	case "js", "jsx", "mjs":
		return "javascript"
	case "ts", "tsx":
		return "typescript"
	case "rb":
		return "ruby"
	case "rs":
		return "rust"
	case "java":
		return "java"
	case "c":
		return "c"
	case "cpp", "cc", "cxx":
		return "cpp"
	case "h", "hpp":
		return "c"
	case "cs":
		return "csharp"
	case "php":
		return "php"
	case "swift":
		return "swift"
	case "kt", "kts":
		return "kotlin"
	case "scala":
		return "scala"
	case "sh", "bash":
		return "shell"
	case "sql":
		return "sql"
	case "md", "markdown":
		return "markdown"
	case "json":
		return "json"
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	case "xml":
		return "xml"
	case "html", "htm":
		return "html"
	case "css":
		return "css"
	case "scss", "sass":
		return "scss"
	case "vue":
		return "vue"
	case "svelte":
		return "svelte"
	default:
		return ""
	}
}

func extensionFromPath(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// languageFromShebang sniffs the interpreter named on a #! first line.
func languageFromShebang(content string) string {
	if !strings.HasPrefix(content, "#!") {
		return ""
	}
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	switch {
	case strings.Contains(line, "python"):
		return "python"
	case strings.Contains(line, "node"):
		return "javascript"
	case strings.Contains(line, "ruby"):
		return "ruby"
	case strings.Contains(line, "bash"), strings.Contains(line, "/sh"),
		strings.Contains(line, "zsh"):
		return "shell"
	default:
		return ""
	}
}
