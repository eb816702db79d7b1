package syntax

import (
	"sort"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammars maps LSP language identifiers to tree-sitter grammars.
// Lazily initialized on first use.
var (
	grammars     map[string]*sitter.Language
	grammarsOnce sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		grammars = map[string]*sitter.Language{
			"go":              golang.GetLanguage(),
			"python":          python.GetLanguage(),
			"javascript":      javascript.GetLanguage(),
			"javascriptreact": javascript.GetLanguage(),
			"typescript":      ts.GetLanguage(),
			"rust":            rust.GetLanguage(),
			"c":               c.GetLanguage(),
			"cpp":             cpp.GetLanguage(),
			"java":            java.GetLanguage(),
		}
	})
}

// GrammarFor returns the grammar for an LSP language identifier.
func GrammarFor(languageID string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := grammars[languageID]
	return l, ok
}

// Languages returns the supported language identifiers, sorted.
func Languages() []string {
	initGrammars()
	ids := make([]string, 0, len(grammars))
	for id := range grammars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
