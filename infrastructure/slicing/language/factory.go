package language

import (
	"github.com/tribridrag/tribridrag/infrastructure/slicing"
)

// Factory creates the Analyzer for a given language configuration,
// dispatching by name to whichever concrete analyzer implements it.
type Factory struct {
	config slicing.LanguageConfig
}

// NewFactory creates a Factory bound to config.
func NewFactory(config slicing.LanguageConfig) *Factory {
	return &Factory{config: config}
}

// ByName returns the analyzer for a language name.
func (f *Factory) ByName(name string) (slicing.Analyzer, bool) {
	lang, ok := f.config.ByName(name)
	if !ok {
		return nil, false
	}
	return f.createAnalyzer(lang)
}

// ByExtension returns the analyzer for a file extension.
func (f *Factory) ByExtension(ext string) (slicing.Analyzer, bool) {
	lang, ok := f.config.ByExtension(ext)
	if !ok {
		return nil, false
	}
	return f.createAnalyzer(lang)
}

// createAnalyzer returns (nil, false) for languages registered in
// LanguageConfig that don't yet have an Analyzer implementation, so the
// slicer silently skips those files rather than misparsing them with the
// wrong grammar's assumptions.
func (f *Factory) createAnalyzer(lang slicing.Language) (slicing.Analyzer, bool) {
	switch lang.Name() {
	case "go":
		return NewGo(lang), true
	case "c":
		return NewC(lang), true
	case "rust":
		return NewRust(lang), true
	case "csharp":
		return NewCSharp(lang), true
	default:
		return nil, false
	}
}
