package chunking

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/infrastructure/slicing"
)

// Strategy selects how files are split into chunks. Configured per build,
// not per file.
type Strategy string

const (
	// StrategyAST emits one chunk per top-level declaration, splitting
	// over-large declarations at line boundaries.
	StrategyAST Strategy = "ast"
	// StrategyGreedy splits into fixed token windows with overlap,
	// never breaking inside a line.
	StrategyGreedy Strategy = "greedy"
	// StrategyHybrid is ast per file when parsing succeeds, else greedy.
	StrategyHybrid Strategy = "hybrid"
)

// Tokens are estimated at roughly four characters each; the same
// estimator the slicer uses, so AST and greedy chunks are measured in the
// same units.
const runesPerToken = 4

// Settings bounds the chunker for one build.
type Settings struct {
	Strategy        Strategy
	ChunkSize       int // greedy window, in tokens
	ChunkOverlap    int // greedy overlap, in tokens
	MinChunkChars   int
	MaxChunkTokens  int
	ASTOverlapLines int
	PreserveImports bool
}

// DefaultSettings returns the chunker defaults.
func DefaultSettings() Settings {
	return Settings{
		Strategy:        StrategyHybrid,
		ChunkSize:       400,
		ChunkOverlap:    50,
		MinChunkChars:   50,
		MaxChunkTokens:  800,
		ASTOverlapLines: 3,
		PreserveImports: true,
	}
}

// Chunker splits one file at a time into ordered chunks with stable ids.
// The same file content at the same lines always yields the same chunk
// ids, so rebuilds of unchanged files are no-ops downstream.
type Chunker struct {
	settings  Settings
	languages slicing.LanguageConfig
	logger    *slog.Logger
	truncated atomic.Int64
}

// NewChunker creates a Chunker.
func NewChunker(settings Settings, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Strategy == "" {
		settings.Strategy = StrategyHybrid
	}
	if settings.ChunkSize <= 0 {
		settings.ChunkSize = DefaultSettings().ChunkSize
	}
	if settings.ChunkOverlap < 0 || settings.ChunkOverlap >= settings.ChunkSize {
		settings.ChunkOverlap = settings.ChunkSize / 8
	}
	if settings.MaxChunkTokens <= 0 {
		settings.MaxChunkTokens = DefaultSettings().MaxChunkTokens
	}
	return &Chunker{
		settings:  settings,
		languages: slicing.NewLanguageConfig(),
		logger:    logger,
	}
}

// Settings returns the chunker's effective settings, for the manifest
// snapshot.
func (c *Chunker) Settings() Settings { return c.settings }

// TruncatedCount reports how many chunks exceeded the token budget after
// all splitting and were emitted with the truncation flag.
func (c *Chunker) TruncatedCount() int64 { return c.truncated.Load() }

// ChunkFile splits one file into ordered chunks.
func (c *Chunker) ChunkFile(ctx context.Context, corpusID, path, content, language string) ([]chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, nil
	}

	var chunks []chunk.Chunk
	switch c.settings.Strategy {
	case StrategyGreedy:
		chunks = c.greedy(corpusID, path, content, language)
	case StrategyAST:
		var ok bool
		chunks, ok = c.astChunks(corpusID, path, content, language)
		if !ok {
			c.logger.Warn("ast parse failed, falling back to greedy", "path", path, "language", language)
			chunks = c.greedy(corpusID, path, content, language)
		}
	case StrategyHybrid:
		var ok bool
		chunks, ok = c.astChunks(corpusID, path, content, language)
		if !ok {
			chunks = c.greedy(corpusID, path, content, language)
		}
	default:
		chunks = c.greedy(corpusID, path, content, language)
	}

	chunks = c.mergeTrailingFragment(corpusID, path, language, chunks)
	for i := range chunks {
		chunks[i] = chunks[i].WithOrdinal(i)
	}
	return chunks, nil
}

// greedy splits into token windows with overlap using the line-preserving
// windowing helper.
func (c *Chunker) greedy(corpusID, path, content, language string) []chunk.Chunk {
	// MinSize stays 0 here: small trailing fragments are merged into the
	// previous chunk afterwards, not dropped by the windowing helper.
	params := ChunkParams{
		Size:    c.settings.ChunkSize * runesPerToken,
		Overlap: c.settings.ChunkOverlap * runesPerToken,
	}

	windows, err := NewTextChunks(content, params)
	if err != nil {
		c.logger.Warn("greedy chunking failed", "path", path, "error", err)
		return nil
	}

	var chunks []chunk.Chunk
	for _, w := range windows.All() {
		chunks = append(chunks, c.emit(corpusID, path, w.StartLine(), w.EndLine(), language, w.Content()))
	}
	return chunks
}

// astChunks parses the file and emits one chunk per top-level declaration.
// Returns ok=false when the language has no grammar or parsing fails, so
// the caller can fall back to greedy.
func (c *Chunker) astChunks(corpusID, path, content, language string) ([]chunk.Chunk, bool) {
	lang, ok := c.languages.ByName(language)
	if !ok {
		return nil, false
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang.SitterLanguage())
	source := []byte(content)
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil || tree == nil || tree.RootNode() == nil || tree.RootNode().HasError() {
		return nil, false
	}

	root := tree.RootNode()
	nodes := lang.Nodes()
	declTypes := make(map[string]bool)
	for _, t := range nodes.FunctionNodes() {
		declTypes[t] = true
	}
	for _, t := range nodes.MethodNodes() {
		declTypes[t] = true
	}
	for _, t := range nodes.ClassNodes() {
		declTypes[t] = true
	}
	for _, t := range nodes.TypeNodes() {
		declTypes[t] = true
	}
	importTypes := make(map[string]bool)
	for _, t := range nodes.ImportNodes() {
		importTypes[t] = true
	}

	var preamble []string
	var decls []*sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child == nil {
			continue
		}
		switch {
		case declTypes[child.Type()]:
			decls = append(decls, child)
		case importTypes[child.Type()] && c.settings.PreserveImports:
			preamble = append(preamble, string(source[child.StartByte():child.EndByte()]))
		}
	}
	if len(decls) == 0 {
		return nil, false
	}

	prefix := ""
	if len(preamble) > 0 {
		prefix = strings.Join(preamble, "\n") + "\n\n"
	}

	var chunks []chunk.Chunk
	for _, decl := range decls {
		text := string(source[decl.StartByte():decl.EndByte()])
		startLine := int(decl.StartPoint().Row) + 1
		endLine := int(decl.EndPoint().Row) + 1

		if estimateTokens(prefix+text) <= c.settings.MaxChunkTokens {
			chunks = append(chunks, c.emit(corpusID, path, startLine, endLine, language, prefix+text))
			continue
		}
		chunks = append(chunks, c.splitDeclaration(corpusID, path, language, prefix, text, startLine)...)
	}
	return chunks, true
}

// splitDeclaration cuts an over-large declaration at line boundaries into
// pieces within the token budget, duplicating ASTOverlapLines of context
// across adjacent pieces. A piece still over budget after splitting (one
// gigantic line) is emitted with the truncation flag.
func (c *Chunker) splitDeclaration(corpusID, path, language, prefix, text string, startLine int) []chunk.Chunk {
	budget := c.settings.MaxChunkTokens - estimateTokens(prefix)
	if budget <= 0 {
		budget = c.settings.MaxChunkTokens
		prefix = ""
	}
	budgetRunes := budget * runesPerToken

	lines := strings.SplitAfter(text, "\n")
	overlap := c.settings.ASTOverlapLines

	var chunks []chunk.Chunk
	pieceStart := 0
	for pieceStart < len(lines) {
		pieceEnd := pieceStart
		size := 0
		for pieceEnd < len(lines) {
			lineRunes := len([]rune(lines[pieceEnd]))
			if size > 0 && size+lineRunes > budgetRunes {
				break
			}
			size += lineRunes
			pieceEnd++
		}

		piece := strings.Join(lines[pieceStart:pieceEnd], "")
		pieceStartLine := startLine + pieceStart
		pieceEndLine := startLine + pieceEnd - 1
		emitted := c.emit(corpusID, path, pieceStartLine, pieceEndLine, language, prefix+piece)
		if emitted.TokenCount() > c.settings.MaxChunkTokens {
			emitted = emitted.WithTruncated()
			c.truncated.Add(1)
		}
		chunks = append(chunks, emitted)

		if pieceEnd >= len(lines) {
			break
		}
		next := pieceEnd - overlap
		if next <= pieceStart {
			next = pieceEnd
		}
		pieceStart = next
	}
	return chunks
}

// mergeTrailingFragment folds a final chunk smaller than MinChunkChars
// into its predecessor, re-deriving the merged chunk's id from its new
// span and content.
func (c *Chunker) mergeTrailingFragment(corpusID, path, language string, chunks []chunk.Chunk) []chunk.Chunk {
	if c.settings.MinChunkChars <= 0 || len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if len(last.Content()) >= c.settings.MinChunkChars {
		return chunks
	}
	prev := chunks[len(chunks)-2]
	merged := c.emit(corpusID, path, prev.StartLine(), last.EndLine(), language, prev.Content()+last.Content())
	return append(chunks[:len(chunks)-2], merged)
}

func (c *Chunker) emit(corpusID, path string, startLine, endLine int, language, content string) chunk.Chunk {
	return chunk.New(corpusID, path, startLine, endLine, language, content, estimateTokens(content))
}

func estimateTokens(content string) int {
	return (len(content) + runesPerToken - 1) / runesPerToken
}
