// Package language provides per-language Analyzer implementations atop
// the tree-sitter grammars registered in slicing.LanguageConfig.
package language

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tribridrag/tribridrag/infrastructure/slicing"
)

// Base provides the analyzer behavior shared across languages: comment
// extraction, qualified-name building, and node text lookup. Concrete
// analyzers embed Base and override the language-specific parts.
type Base struct {
	language slicing.Language
	walker   slicing.Walker
}

// NewBase creates a Base bound to language.
func NewBase(language slicing.Language) Base {
	return Base{language: language, walker: slicing.NewWalker()}
}

func (b Base) Language() slicing.Language { return b.language }
func (b Base) Walker() slicing.Walker     { return b.walker }

func (b Base) NodeText(node *sitter.Node, source []byte) string {
	return b.walker.NodeText(node, source)
}

// ExtractIdentifier pulls the name field (or the node itself, if it is
// already an identifier) out of node.
func (b Base) ExtractIdentifier(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	nameField := b.language.Nodes().NameField()
	if nameField == "" {
		nameField = "name"
	}
	if nameNode := node.ChildByFieldName(nameField); nameNode != nil {
		return b.NodeText(nameNode, source)
	}
	if b.walker.IsIdentifier(node) {
		return b.NodeText(node, source)
	}
	return ""
}

// ExtractPrecedingComment collects the contiguous run of comment nodes
// directly above node, in source order, as that node's docstring.
func (b Base) ExtractPrecedingComment(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	var comments []string
	prev := node.PrevSibling()
	for prev != nil && b.walker.IsComment(prev) {
		if text := cleanComment(b.NodeText(prev, source)); text != "" {
			comments = append([]string{text}, comments...)
		}
		prev = prev.PrevSibling()
	}
	return strings.Join(comments, "\n")
}

// ExtractFirstChildComment extracts a Python-style docstring: the first
// statement in node's body, if it is a bare string expression.
func (b Base) ExtractFirstChildComment(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	body := node.ChildByFieldName("body")
	if body == nil {
		return ""
	}
	for i := uint32(0); i < body.ChildCount(); i++ {
		child := body.Child(int(i))
		if child == nil {
			continue
		}
		if child.Type() == "expression_statement" && child.ChildCount() > 0 {
			if expr := child.Child(0); expr != nil && b.walker.IsString(expr) {
				return cleanDocstring(b.NodeText(expr, source))
			}
		}
		if !b.walker.IsComment(child) {
			break
		}
	}
	return ""
}

func (b Base) BuildQualifiedName(modulePath, simpleName string) string {
	if modulePath == "" {
		return simpleName
	}
	return modulePath + "." + simpleName
}

// BuildModulePathFromPath derives a dotted module path from a file path,
// stripping extension and directory separators the way an import path
// would read.
func (b Base) BuildModulePathFromPath(filePath, extension string) string {
	name := strings.TrimSuffix(filepath.Base(filePath), extension)
	dir := filepath.Dir(filePath)

	var parts []string
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		if part != "" && part != "." && part != ".." {
			parts = append(parts, part)
		}
	}
	parts = append(parts, name)
	return strings.Join(parts, ".")
}

func cleanComment(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "//"):
		text = strings.TrimPrefix(text, "//")
	case strings.HasPrefix(text, "#"):
		text = strings.TrimPrefix(text, "#")
	case strings.HasPrefix(text, "/*") && strings.HasSuffix(text, "*/"):
		text = strings.TrimSuffix(strings.TrimPrefix(text, "/*"), "*/")
	}
	return strings.TrimSpace(text)
}

func cleanDocstring(text string) string {
	text = strings.TrimSpace(text)
	for _, quote := range []string{`"""`, "'''", `"`, "'"} {
		if strings.HasPrefix(text, quote) && strings.HasSuffix(text, quote) {
			text = strings.TrimSuffix(strings.TrimPrefix(text, quote), quote)
			break
		}
	}
	return strings.TrimSpace(text)
}
