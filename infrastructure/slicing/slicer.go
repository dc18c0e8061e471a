package slicing

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tribridrag/tribridrag/domain/chunk"
)

// SourceFile is the minimal description of a file the AST chunker needs:
// enough to read and re-derive its content from disk relative to a
// corpus's basePath. It replaces a full repository-tracked file record,
// since the chunker has no dependency on how a file was discovered.
type SourceFile struct {
	path     string
	language string
}

// NewSourceFile describes one file to slice, given its path relative to
// the corpus base and its source language (may be empty; the chunker
// falls back to inferring it from the extension).
func NewSourceFile(path, language string) SourceFile {
	return SourceFile{path: path, language: language}
}

func (f SourceFile) Path() string     { return f.path }
func (f SourceFile) Language() string { return f.language }

// Slicer extracts function/method-level chunks and their call graph from
// source files using AST parsing, following the corpus's configured
// language grammars.
type Slicer struct {
	config          LanguageConfig
	analyzerFactory AnalyzerFactory
	walker          Walker
}

// AnalyzerFactory resolves the Analyzer for a file extension.
type AnalyzerFactory interface {
	ByExtension(ext string) (Analyzer, bool)
}

// NewSlicer creates a Slicer.
func NewSlicer(config LanguageConfig, factory AnalyzerFactory) *Slicer {
	return &Slicer{config: config, analyzerFactory: factory, walker: NewWalker()}
}

// SliceConfig tunes how much surrounding context an AST chunk carries:
// its direct dependencies and callers, bounded so one chunk never
// balloons past a reasonable token budget.
type SliceConfig struct {
	CorpusID           string
	MaxDependencyDepth int
	MaxDependencyCount int
	MaxExamples        int
	IncludePrivate     bool
}

// DefaultSliceConfig returns the chunker's default bounds.
func DefaultSliceConfig() SliceConfig {
	return SliceConfig{
		MaxDependencyDepth: 2,
		MaxDependencyCount: 8,
		MaxExamples:        2,
		IncludePrivate:     false,
	}
}

// SliceResult is the output of slicing one corpus's files: the chunks
// ready for embedding plus the raw function/type inventory and call
// graph the graph builder derives entities and relationships from.
type SliceResult struct {
	chunks    []chunk.Chunk
	functions []FunctionDefinition
	types     []TypeDefinition
	classes   []ClassDefinition
	imports   map[string][]string
	callGraph *CallGraph
}

// NewSliceResult assembles a SliceResult from parts, for callers that
// produce the inventory without running a full Slice (delta rebuilds
// that reuse stored chunks, tests).
func NewSliceResult(chunks []chunk.Chunk, functions []FunctionDefinition, types []TypeDefinition, classes []ClassDefinition, imports map[string][]string, callGraph *CallGraph) SliceResult {
	if callGraph == nil {
		callGraph = NewCallGraph()
	}
	if imports == nil {
		imports = make(map[string][]string)
	}
	return SliceResult{
		chunks:    chunks,
		functions: functions,
		types:     types,
		classes:   classes,
		imports:   imports,
		callGraph: callGraph,
	}
}

func newSliceResult() SliceResult {
	return SliceResult{
		chunks:    make([]chunk.Chunk, 0),
		functions: make([]FunctionDefinition, 0),
		types:     make([]TypeDefinition, 0),
		classes:   make([]ClassDefinition, 0),
		imports:   make(map[string][]string),
		callGraph: NewCallGraph(),
	}
}

func (r SliceResult) Chunks() []chunk.Chunk          { return r.chunks }
func (r SliceResult) Functions() []FunctionDefinition { return r.functions }
func (r SliceResult) Types() []TypeDefinition         { return r.types }
func (r SliceResult) Classes() []ClassDefinition      { return r.classes }
func (r SliceResult) CallGraph() *CallGraph           { return r.callGraph }

// Imports maps each file path to the raw import targets its import
// statements name, for the graph builder's imports relationships.
func (r SliceResult) Imports() map[string][]string {
	out := make(map[string][]string, len(r.imports))
	for k, v := range r.imports {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

type sliceState struct {
	files     []ParsedFile
	defIndex  map[string]FunctionDefinition
	typeIndex map[string]TypeDefinition
	classes   []ClassDefinition
	imports   map[string][]string
	callGraph *CallGraph
	fileIndex map[string]SourceFile
}

// Slice parses every file whose extension has a registered language,
// extracts function/method and type definitions, builds the call graph
// between them, and emits one chunk per public definition (plus private
// ones when cfg.IncludePrivate is set).
func (s *Slicer) Slice(ctx context.Context, files []SourceFile, basePath string, cfg SliceConfig) (SliceResult, error) {
	result := newSliceResult()
	state := &sliceState{
		files:     make([]ParsedFile, 0, len(files)),
		defIndex:  make(map[string]FunctionDefinition),
		typeIndex: make(map[string]TypeDefinition),
		imports:   make(map[string][]string),
		callGraph: NewCallGraph(),
		fileIndex: make(map[string]SourceFile, len(files)),
	}

	for _, file := range files {
		state.fileIndex[file.Path()] = file
	}

	for _, file := range files {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		parsed, err := s.parseFile(file, basePath)
		if err != nil || parsed.tree == nil {
			continue
		}
		state.files = append(state.files, parsed)
	}

	for _, parsed := range state.files {
		s.extractDefinitions(parsed, state, cfg)
	}
	for _, parsed := range state.files {
		s.buildCallGraph(parsed, state)
	}
	result.callGraph = state.callGraph

	for name, funcDef := range state.defIndex {
		result.functions = append(result.functions, funcDef)
		if !funcDef.IsPublic() && !cfg.IncludePrivate {
			continue
		}
		result.chunks = append(result.chunks, s.buildChunk(cfg.CorpusID, name, funcDef, state, cfg, basePath))
	}

	for _, typeDef := range state.typeIndex {
		result.types = append(result.types, typeDef)
		if !isPublicName(typeDef.SimpleName()) && !cfg.IncludePrivate {
			continue
		}
		result.chunks = append(result.chunks, s.buildTypeChunk(cfg.CorpusID, typeDef, basePath))
	}

	result.classes = state.classes
	result.imports = state.imports

	return result, nil
}

func (s *Slicer) parseFile(file SourceFile, basePath string) (ParsedFile, error) {
	fullPath := filepath.Join(basePath, file.Path())
	ext := filepath.Ext(file.Path())

	lang, ok := s.config.ByExtension(ext)
	if !ok {
		return ParsedFile{}, nil
	}

	source, err := os.ReadFile(fullPath)
	if err != nil {
		return ParsedFile{}, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang.SitterLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return ParsedFile{}, err
	}

	return NewParsedFile(file.Path(), tree, source), nil
}

func (s *Slicer) extractDefinitions(parsed ParsedFile, state *sliceState, cfg SliceConfig) {
	ext := filepath.Ext(parsed.Path())
	analyzer, ok := s.analyzerFactory.ByExtension(ext)
	if !ok {
		return
	}

	modulePath := analyzer.ModulePath(parsed)
	source := parsed.SourceCode()
	tree := parsed.Tree()

	langNodes := analyzer.Language().Nodes()
	funcTypes := append(append([]string{}, langNodes.FunctionNodes()...), langNodes.MethodNodes()...)
	funcNodes := s.walker.CollectNodes(tree.RootNode(), funcTypes)

	for _, node := range funcNodes {
		name := analyzer.FunctionName(node, source)
		if name == "" {
			continue
		}

		qualifiedName := buildQualified(modulePath, name)
		if analyzer.IsMethod(node) {
			if receiverName := s.extractReceiverName(node, source); receiverName != "" {
				qualifiedName = buildQualified(modulePath, receiverName+"."+name)
			}
		}

		state.defIndex[qualifiedName] = NewFunctionDefinition(
			parsed.Path(), node, node.StartByte(), node.EndByte(),
			qualifiedName, name, analyzer.IsPublic(node, name, source), analyzer.IsMethod(node),
			analyzer.Docstring(node, source), nil, "",
		)
	}

	for _, class := range analyzer.Classes(tree, source) {
		state.classes = append(state.classes, class)
		for _, method := range class.Methods() {
			if !method.IsPublic() && !cfg.IncludePrivate {
				continue
			}
			state.defIndex[method.QualifiedName()] = method
		}
	}

	for _, importNode := range s.walker.CollectNodes(tree.RootNode(), langNodes.ImportNodes()) {
		if target := importTarget(importNode, source); target != "" {
			state.imports[parsed.Path()] = append(state.imports[parsed.Path()], target)
		}
	}

	for _, typeDef := range analyzer.Types(tree, source) {
		name := typeDef.SimpleName()
		if name == "" {
			continue
		}
		qualified := buildQualified(modulePath, name)
		state.typeIndex[qualified] = NewTypeDefinition(
			parsed.Path(), typeDef.Node(), typeDef.StartByte(), typeDef.EndByte(),
			qualified, name, typeDef.Kind(), typeDef.Docstring(), typeDef.ConstructorParams(),
		)
	}
}

func (s *Slicer) extractReceiverName(node *sitter.Node, source []byte) string {
	receiver := node.ChildByFieldName("receiver")
	if receiver == nil {
		return ""
	}
	var typeName string
	s.walker.Walk(receiver, func(n *sitter.Node) bool {
		if n.Type() == "type_identifier" {
			typeName = s.walker.NodeText(n, source)
			return false
		}
		return true
	})
	return typeName
}

func (s *Slicer) buildCallGraph(parsed ParsedFile, state *sliceState) {
	ext := filepath.Ext(parsed.Path())
	analyzer, ok := s.analyzerFactory.ByExtension(ext)
	if !ok {
		return
	}

	modulePath := analyzer.ModulePath(parsed)
	source := parsed.SourceCode()
	tree := parsed.Tree()

	langNodes := analyzer.Language().Nodes()
	funcTypes := append(append([]string{}, langNodes.FunctionNodes()...), langNodes.MethodNodes()...)
	funcNodes := s.walker.CollectNodes(tree.RootNode(), funcTypes)

	for _, funcNode := range funcNodes {
		funcName := analyzer.FunctionName(funcNode, source)
		if funcName == "" {
			continue
		}

		callerQualified := buildQualified(modulePath, funcName)
		if analyzer.IsMethod(funcNode) {
			if receiverName := s.extractReceiverName(funcNode, source); receiverName != "" {
				callerQualified = buildQualified(modulePath, receiverName+"."+funcName)
			}
		}

		callNodes := s.walker.CollectDescendants(funcNode, langNodes.CallNode())
		for _, callNode := range callNodes {
			calleeName := s.extractCalleeName(callNode, source)
			if calleeName == "" {
				continue
			}
			state.callGraph.AddCall(callerQualified, s.resolveCallee(calleeName, modulePath, state))
		}
	}
}

func (s *Slicer) extractCalleeName(node *sitter.Node, source []byte) string {
	if funcNode := node.ChildByFieldName("function"); funcNode != nil {
		return s.walker.NodeText(funcNode, source)
	}
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		return s.walker.NodeText(nameNode, source)
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		if child := node.Child(int(i)); child != nil && s.walker.IsIdentifier(child) {
			return s.walker.NodeText(child, source)
		}
	}
	return ""
}

func (s *Slicer) resolveCallee(name, modulePath string, state *sliceState) string {
	if strings.Contains(name, ".") {
		parts := strings.Split(name, ".")
		name = parts[len(parts)-1]
	}
	qualified := buildQualified(modulePath, name)
	if _, ok := state.defIndex[qualified]; ok {
		return qualified
	}
	for qname := range state.defIndex {
		if strings.HasSuffix(qname, "."+name) {
			return qname
		}
	}
	return name
}

// buildChunk assembles one definition's source plus its nearest
// dependencies and a few call sites into a single chunk, following the
// same "excerpt with context" shape a hand-written example would have.
func (s *Slicer) buildChunk(corpusID, name string, funcDef FunctionDefinition, state *sliceState, cfg SliceConfig, basePath string) chunk.Chunk {
	var contentParts []string

	source, err := os.ReadFile(filepath.Join(basePath, funcDef.FilePath()))
	if err == nil {
		if part, ok := sliceSpan(source, funcDef.StartByte(), funcDef.EndByte()); ok {
			contentParts = append(contentParts, part)
		}
	}

	for _, depName := range state.callGraph.Dependencies(name, cfg.MaxDependencyDepth, cfg.MaxDependencyCount) {
		depDef, ok := state.defIndex[depName]
		if !ok {
			continue
		}
		depSource, err := os.ReadFile(filepath.Join(basePath, depDef.FilePath()))
		if err != nil {
			continue
		}
		if part, ok := sliceSpan(depSource, depDef.StartByte(), depDef.EndByte()); ok {
			contentParts = append(contentParts, part)
		}
	}

	callers := state.callGraph.Callers(name)
	sort.Strings(callers)
	exampleCount := 0
	for _, callerName := range callers {
		if exampleCount >= cfg.MaxExamples {
			break
		}
		callerDef, ok := state.defIndex[callerName]
		if !ok {
			continue
		}
		callerSource, err := os.ReadFile(filepath.Join(basePath, callerDef.FilePath()))
		if err != nil {
			continue
		}
		if part, ok := sliceSpan(callerSource, callerDef.StartByte(), callerDef.EndByte()); ok {
			contentParts = append(contentParts, "// Example usage:\n"+part)
			exampleCount++
		}
	}

	content := strings.Join(contentParts, "\n\n")
	startLine, endLine := lineRange(funcDef.Node())
	language := extToLanguage(filepath.Ext(funcDef.FilePath()))
	if file, ok := state.fileIndex[funcDef.FilePath()]; ok && file.Language() != "" {
		language = file.Language()
	}

	return chunk.New(corpusID, funcDef.FilePath(), startLine, endLine, language, content, estimateTokens(content))
}

func (s *Slicer) buildTypeChunk(corpusID string, typeDef TypeDefinition, basePath string) chunk.Chunk {
	var content string
	source, err := os.ReadFile(filepath.Join(basePath, typeDef.FilePath()))
	if err == nil {
		if part, ok := sliceSpan(source, typeDef.StartByte(), typeDef.EndByte()); ok {
			content = part
		}
	}

	startLine, endLine := lineRange(typeDef.Node())
	language := extToLanguage(filepath.Ext(typeDef.FilePath()))

	return chunk.New(corpusID, typeDef.FilePath(), startLine, endLine, language, content, estimateTokens(content))
}

// importTarget extracts the imported module/path text from an import
// node, stripping quotes and keywords so "fmt", import os, and
// #include <stdio.h> all reduce to their bare target.
func importTarget(node *sitter.Node, source []byte) string {
	text := string(source[node.StartByte():node.EndByte()])
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"import", "from", "use", "using", "#include"} {
		text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	if i := strings.IndexAny(text, " \t\n;"); i > 0 {
		text = text[:i]
	}
	text = strings.Trim(text, `"'<>()`)
	return text
}

func sliceSpan(source []byte, start, end uint32) (string, bool) {
	if start < uint32(len(source)) && end <= uint32(len(source)) && start <= end {
		return string(source[start:end]), true
	}
	return "", false
}

// lineRange converts a node's tree-sitter point range (0-indexed rows)
// into the 1-indexed inclusive line range Chunk expects.
func lineRange(node *sitter.Node) (int, int) {
	if node == nil {
		return 0, 0
	}
	return int(node.StartPoint().Row) + 1, int(node.EndPoint().Row) + 1
}

// estimateTokens gives a rough token count when no tokenizer is wired in
// at slice time; the embedder re-measures with the real tokenizer before
// enforcing the chunk size budget.
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}

func isPublicName(name string) bool {
	if name == "" {
		return false
	}
	return unicode.IsUpper([]rune(name)[0])
}

func buildQualified(modulePath, name string) string {
	if modulePath == "" {
		return name
	}
	return modulePath + "." + name
}

func extToLanguage(ext string) string {
	languages := map[string]string{
		".py": "python", ".go": "go", ".java": "java",
		".c": "c", ".cpp": "cpp", ".cc": "cpp", ".cxx": "cpp",
		".rs": "rust", ".js": "javascript", ".ts": "typescript",
		".tsx": "tsx", ".cs": "csharp",
	}
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return ""
}
