// Package server implements a language server for pcode source files:
// diagnostics, completion, hover, definition and references.
package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/pcode/compiler"
	"github.com/chazu/pcode/vm"
)

const lspName = "pcode-lsp"

var log = commonlog.GetLogger("pcode.lsp")

// LspServer keeps the open documents and their analyses.
type LspServer struct {
	capacity int

	mu   sync.Mutex
	docs map[string]*document // URI → document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

type document struct {
	text     string
	analysis *analysis
}

// NewLSP creates a language server. cfg supplies the memory capacity that
// programs are checked against.
func NewLSP(cfg vm.Config) *LspServer {
	s := &LspServer{
		capacity: cfg.MemoryCapacity,
		docs:     make(map[string]*document),
		version:  "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("pcode LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{":"},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.mu.Lock()
	s.docs = make(map[string]*document)
	s.mu.Unlock()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := s.update(params.TextDocument.URI, params.TextDocument.Text)
	s.publishDiagnostics(ctx, params.TextDocument.URI, doc)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			doc := s.update(params.TextDocument.URI, whole.Text)
			s.publishDiagnostics(ctx, params.TextDocument.URI, doc)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update analyzes text and stores it as the current content of uri.
func (s *LspServer) update(uri protocol.DocumentUri, text string) *document {
	doc := &document{text: text, analysis: analyze(text, s.capacity)}

	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()
	return doc
}

func (s *LspServer) document(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	return doc, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" && !afterColon(doc.text, params.Position) {
		return nil, nil
	}
	return complete(doc, prefix, afterColon(doc.text, params.Position)), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(doc, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	sym, ok := doc.analysis.symbols[word]
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: params.TextDocument.URI, Range: toRange(sym.def)}}, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	return references(doc, params.TextDocument.URI, word, params.Context.IncludeDeclaration), nil
}

// --- Analysis ---

// symbol is one variable of a document.
type symbol struct {
	name     string
	address  int
	declType string
	def      compiler.Span   // first store, or first use if never stored
	refs     []compiler.Span // every occurrence in source order
}

type analysis struct {
	diags   []compiler.Diagnostic
	symbols map[string]*symbol
}

// analyze parses text and collects diagnostics and symbols. Semantic
// warnings are only reported for documents that parse cleanly.
func analyze(text string, capacity int) *analysis {
	a := &analysis{symbols: make(map[string]*symbol)}

	p := compiler.NewParser(text)
	prog := p.ParseProgram()
	a.diags = append(a.diags, p.Diagnostics()...)
	if len(p.Errors()) == 0 {
		a.diags = append(a.diags, compiler.Analyze(prog)...)
	}

	stored := make(map[string]bool)
	occur := func(name string, span compiler.Span, store bool) {
		sym, ok := a.symbols[name]
		if !ok {
			sym = &symbol{name: name, def: span}
			a.symbols[name] = sym
		}
		if store && !stored[name] {
			stored[name] = true
			sym.def = span
		}
		sym.refs = append(sym.refs, span)
	}
	compiler.Walk(prog, func(n compiler.Node) bool {
		switch n := n.(type) {
		case *compiler.VarDecl:
			occur(n.Name, n.NameSpan, true)
			if sym := a.symbols[n.Name]; sym.declType == "" {
				sym.declType = n.Type
			}
		case *compiler.Assign:
			occur(n.Name, n.NameSpan, true)
		case *compiler.Input:
			occur(n.Name, n.NameSpan, true)
		case *compiler.Identifier:
			occur(n.Name, n.SpanVal, false)
		}
		return true
	})

	// The recovered tree may be partial, but every statement in it is
	// complete, so the generator can still assign addresses.
	g := compiler.NewGenerator()
	if _, err := g.Generate(prog); err != nil {
		log.Debugf("generate: %s", err)
	}
	for name, addr := range g.Addresses() {
		if sym, ok := a.symbols[name]; ok {
			sym.address = addr
			if addr >= capacity {
				a.diags = append(a.diags, compiler.Diagnostic{
					Span:     sym.def,
					Severity: compiler.SeverityWarning,
					Message:  fmt.Sprintf("%s needs memory cell #%d but the machine has %d cells", name, addr, capacity),
				})
			}
		}
	}
	return a
}

// sortedSymbols returns the symbols in address order.
func (a *analysis) sortedSymbols() []*symbol {
	syms := make([]*symbol, 0, len(a.symbols))
	for _, sym := range a.symbols {
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].address < syms[j].address })
	return syms
}

func complete(doc *document, prefix string, typeContext bool) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(strings.ToLower(label), lowerPrefix) {
			return
		}
		labelCopy, detailCopy := label, detail
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	// After "var x:" only type names make sense
	for _, name := range compiler.TypeNames {
		add(name, protocol.CompletionItemKindTypeParameter, "type")
	}
	if typeContext {
		return items
	}

	for _, sym := range doc.analysis.sortedSymbols() {
		add(sym.name, protocol.CompletionItemKindVariable, fmt.Sprintf("variable #%d", sym.address))
	}
	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

var keywordDocs = map[string]string{
	"var":   "`var name [: int|float|bool] [= expression]` declares a variable.",
	"print": "`print expression` writes the value followed by a newline.",
	"read":  "`read name` reads one line of input into a variable.",
	"if":    "`if condition statement [else statement]`",
	"else":  "`if condition statement else statement`",
	"while": "`while condition statement` repeats while the condition holds.",
	"and":   "Short-circuit conjunction: later operands are skipped once one is false.",
	"or":    "Short-circuit disjunction: later operands are skipped once one is true.",
	"not":   "Logical negation.",
	"true":  "Boolean literal.",
	"false": "Boolean literal.",
}

func hover(doc *document, word string) *protocol.Hover {
	var b strings.Builder

	if sym, ok := doc.analysis.symbols[word]; ok {
		fmt.Fprintf(&b, "**%s**", sym.name)
		if sym.declType != "" {
			fmt.Fprintf(&b, ": `%s`", sym.declType)
		}
		fmt.Fprintf(&b, "\n\nmemory cell `#%d`", sym.address)
		fmt.Fprintf(&b, "\n\ndefined on line %d, %d references", sym.def.Start.Line, len(sym.refs))
	} else if text, ok := keywordDocs[word]; ok {
		fmt.Fprintf(&b, "**%s**\n\n%s", word, text)
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func references(doc *document, uri protocol.DocumentUri, word string, includeDecl bool) []protocol.Location {
	sym, ok := doc.analysis.symbols[word]
	if !ok {
		return nil
	}
	var locations []protocol.Location
	for _, span := range sym.refs {
		if !includeDecl && span == sym.def {
			continue
		}
		locations = append(locations, protocol.Location{URI: uri, Range: toRange(span)})
	}
	return locations
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, doc *document) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: toDiagnostics(doc.analysis.diags),
	})
}

func toDiagnostics(diags []compiler.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	source := lspName
	for _, d := range diags {
		severity := protocol.DiagnosticSeverityError
		if d.Severity == compiler.SeverityWarning {
			severity = protocol.DiagnosticSeverityWarning
		}
		out = append(out, protocol.Diagnostic{
			Range:    toRange(d.Span),
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

// toRange converts a 1-based source span to a 0-based protocol range.
func toRange(span compiler.Span) protocol.Range {
	return protocol.Range{
		Start: toPosition(span.Start),
		End:   toPosition(span.End),
	}
}

func toPosition(pos compiler.Position) protocol.Position {
	line, col := pos.Line-1, pos.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// afterColon reports whether the cursor follows "name:" (optionally with
// a partial type name), where a type annotation is expected.
func afterColon(text string, pos protocol.Position) bool {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return false
	}
	i := col
	for i > 0 && isWordChar(rune(line[i-1])) {
		i--
	}
	for i > 0 && line[i-1] == ' ' {
		i--
	}
	return i > 0 && line[i-1] == ':'
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Find start
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
