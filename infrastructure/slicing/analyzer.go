package slicing

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Analyzer extracts code elements from one language's parsed AST.
type Analyzer interface {
	Language() Language
	FunctionName(node *sitter.Node, source []byte) string
	IsPublic(node *sitter.Node, name string, source []byte) bool
	IsMethod(node *sitter.Node) bool
	Docstring(node *sitter.Node, source []byte) string
	ModulePath(file ParsedFile) string
	Classes(tree *sitter.Tree, source []byte) []ClassDefinition
	Types(tree *sitter.Tree, source []byte) []TypeDefinition
}

// ParsedFile is one source file after tree-sitter parsing.
type ParsedFile struct {
	path       string
	tree       *sitter.Tree
	sourceCode []byte
}

// NewParsedFile creates a ParsedFile.
func NewParsedFile(path string, tree *sitter.Tree, sourceCode []byte) ParsedFile {
	code := make([]byte, len(sourceCode))
	copy(code, sourceCode)
	return ParsedFile{path: path, tree: tree, sourceCode: code}
}

func (p ParsedFile) Path() string      { return p.path }
func (p ParsedFile) Tree() *sitter.Tree { return p.tree }
func (p ParsedFile) SourceCode() []byte {
	code := make([]byte, len(p.sourceCode))
	copy(code, p.sourceCode)
	return code
}

// FunctionDefinition is one function or method found in a parsed file.
type FunctionDefinition struct {
	filePath      string
	node          *sitter.Node
	startByte     uint32
	endByte       uint32
	qualifiedName string
	simpleName    string
	isPublic      bool
	isMethod      bool
	docstring     string
	parameters    []string
	returnType    string
}

// NewFunctionDefinition creates a FunctionDefinition.
func NewFunctionDefinition(filePath string, node *sitter.Node, startByte, endByte uint32, qualifiedName, simpleName string, isPublic, isMethod bool, docstring string, parameters []string, returnType string) FunctionDefinition {
	params := make([]string, len(parameters))
	copy(params, parameters)
	return FunctionDefinition{
		filePath: filePath, node: node, startByte: startByte, endByte: endByte,
		qualifiedName: qualifiedName, simpleName: simpleName, isPublic: isPublic, isMethod: isMethod,
		docstring: docstring, parameters: params, returnType: returnType,
	}
}

func (f FunctionDefinition) FilePath() string           { return f.filePath }
func (f FunctionDefinition) Node() *sitter.Node          { return f.node }
func (f FunctionDefinition) StartByte() uint32           { return f.startByte }
func (f FunctionDefinition) EndByte() uint32             { return f.endByte }
func (f FunctionDefinition) Span() (uint32, uint32)      { return f.startByte, f.endByte }
func (f FunctionDefinition) QualifiedName() string       { return f.qualifiedName }
func (f FunctionDefinition) SimpleName() string          { return f.simpleName }
func (f FunctionDefinition) IsPublic() bool              { return f.isPublic }
func (f FunctionDefinition) IsMethod() bool              { return f.isMethod }
func (f FunctionDefinition) Docstring() string           { return f.docstring }
func (f FunctionDefinition) ReturnType() string          { return f.returnType }
func (f FunctionDefinition) Parameters() []string {
	params := make([]string, len(f.parameters))
	copy(params, f.parameters)
	return params
}

// ClassDefinition is one class, struct, or interface found in a parsed file.
type ClassDefinition struct {
	filePath          string
	node              *sitter.Node
	startByte         uint32
	endByte           uint32
	qualifiedName     string
	simpleName        string
	isPublic          bool
	docstring         string
	bases             []string
	methods           []FunctionDefinition
	constructorParams []string
}

// NewClassDefinition creates a ClassDefinition.
func NewClassDefinition(filePath string, node *sitter.Node, startByte, endByte uint32, qualifiedName, simpleName string, isPublic bool, docstring string, bases []string, methods []FunctionDefinition, constructorParams []string) ClassDefinition {
	basesCopy := make([]string, len(bases))
	copy(basesCopy, bases)
	methodsCopy := make([]FunctionDefinition, len(methods))
	copy(methodsCopy, methods)
	paramsCopy := make([]string, len(constructorParams))
	copy(paramsCopy, constructorParams)
	return ClassDefinition{
		filePath: filePath, node: node, startByte: startByte, endByte: endByte,
		qualifiedName: qualifiedName, simpleName: simpleName, isPublic: isPublic, docstring: docstring,
		bases: basesCopy, methods: methodsCopy, constructorParams: paramsCopy,
	}
}

func (c ClassDefinition) FilePath() string       { return c.filePath }
func (c ClassDefinition) Node() *sitter.Node     { return c.node }
func (c ClassDefinition) StartByte() uint32      { return c.startByte }
func (c ClassDefinition) EndByte() uint32        { return c.endByte }
func (c ClassDefinition) QualifiedName() string  { return c.qualifiedName }
func (c ClassDefinition) SimpleName() string     { return c.simpleName }
func (c ClassDefinition) IsPublic() bool         { return c.isPublic }
func (c ClassDefinition) Docstring() string      { return c.docstring }
func (c ClassDefinition) Bases() []string {
	out := make([]string, len(c.bases))
	copy(out, c.bases)
	return out
}
func (c ClassDefinition) Methods() []FunctionDefinition {
	out := make([]FunctionDefinition, len(c.methods))
	copy(out, c.methods)
	return out
}
func (c ClassDefinition) ConstructorParams() []string {
	out := make([]string, len(c.constructorParams))
	copy(out, c.constructorParams)
	return out
}

// TypeDefinition is one type alias, interface, or struct type found in a
// parsed file, separate from ClassDefinition since several languages
// distinguish "type" from "class" declarations.
type TypeDefinition struct {
	filePath          string
	node              *sitter.Node
	startByte         uint32
	endByte           uint32
	qualifiedName     string
	simpleName        string
	kind              string
	docstring         string
	constructorParams []string
}

// NewTypeDefinition creates a TypeDefinition.
func NewTypeDefinition(filePath string, node *sitter.Node, startByte, endByte uint32, qualifiedName, simpleName, kind, docstring string, constructorParams []string) TypeDefinition {
	paramsCopy := make([]string, len(constructorParams))
	copy(paramsCopy, constructorParams)
	return TypeDefinition{
		filePath: filePath, node: node, startByte: startByte, endByte: endByte,
		qualifiedName: qualifiedName, simpleName: simpleName, kind: kind, docstring: docstring,
		constructorParams: paramsCopy,
	}
}

func (t TypeDefinition) FilePath() string      { return t.filePath }
func (t TypeDefinition) Node() *sitter.Node    { return t.node }
func (t TypeDefinition) StartByte() uint32     { return t.startByte }
func (t TypeDefinition) EndByte() uint32       { return t.endByte }
func (t TypeDefinition) QualifiedName() string { return t.qualifiedName }
func (t TypeDefinition) SimpleName() string    { return t.simpleName }
func (t TypeDefinition) Kind() string          { return t.kind }
func (t TypeDefinition) Docstring() string     { return t.docstring }
func (t TypeDefinition) ConstructorParams() []string {
	out := make([]string, len(t.constructorParams))
	copy(out, t.constructorParams)
	return out
}
