package language

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tribridrag/tribridrag/infrastructure/slicing"
)

// Go implements Analyzer for Go source.
type Go struct {
	Base
}

// NewGo creates a Go analyzer.
func NewGo(language slicing.Language) *Go {
	return &Go{Base: NewBase(language)}
}

func (g *Go) FunctionName(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		return g.NodeText(nameNode, source)
	}
	return ""
}

// IsPublic follows Go's own visibility rule: an exported identifier
// starts with an uppercase letter.
func (g *Go) IsPublic(_ *sitter.Node, name string, _ []byte) bool {
	if name == "" {
		return false
	}
	r := []rune(name)[0]
	return r >= 'A' && r <= 'Z'
}

func (g *Go) IsMethod(node *sitter.Node) bool {
	return node != nil && node.Type() == "method_declaration"
}

func (g *Go) Docstring(node *sitter.Node, source []byte) string {
	return g.ExtractPrecedingComment(node, source)
}

func (g *Go) ModulePath(file slicing.ParsedFile) string {
	return g.BuildModulePathFromPath(file.Path(), ".go")
}

func (g *Go) Classes(tree *sitter.Tree, source []byte) []slicing.ClassDefinition {
	return nil
}

func (g *Go) Types(tree *sitter.Tree, source []byte) []slicing.TypeDefinition {
	if tree == nil {
		return nil
	}
	specNodes := g.Walker().CollectDescendants(tree.RootNode(), "type_spec")
	types := make([]slicing.TypeDefinition, 0, len(specNodes))
	for _, node := range specNodes {
		nameNode := node.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := g.NodeText(nameNode, source)
		kind := "alias"
		if t := node.ChildByFieldName("type"); t != nil && t.Type() == "struct_type" {
			kind = "struct"
		} else if t != nil && t.Type() == "interface_type" {
			kind = "interface"
		}
		types = append(types, slicing.NewTypeDefinition(
			"", node, node.StartByte(), node.EndByte(), name, name, kind, g.Docstring(node, source), nil,
		))
	}
	return types
}
