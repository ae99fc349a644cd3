package server

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/maxstrauch/theia/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "theia-lsp"

var lspLog = commonlog.GetLogger("theia.lsp")

// LspServer provides editor features for LOOP, WHILE and GOTO programs.
type LspServer struct {
	language compiler.Language

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. lang is used for documents whose
// extension names no language.
func NewLSP(lang compiler.Language) *LspServer {
	s := &LspServer{
		language: lang,
		docs:     make(map[string]string),
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
	lspLog.Info("theia LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
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
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
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

// document returns the analysed content of an open document.
func (s *LspServer) document(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	text, ok := s.docs[string(uri)]
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	return analyse(uri, text, s.languageFor(uri)), true
}

// languageFor derives the language from the URI's extension.
func (s *LspServer) languageFor(uri protocol.DocumentUri) compiler.Language {
	if lang, ok := compiler.LanguageForPath(string(uri)); ok {
		return lang
	}
	return s.language
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return doc.complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return doc.hover(params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	locations := doc.definition(params.Position)
	if len(locations) == 0 {
		return nil, nil
	}
	return locations, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return doc.references(params.Position, params.Context.IncludeDeclaration), nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := analyse(uri, text, s.languageFor(uri)).diagnostics()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// ---------------------------------------------------------------------------
// Document analysis
// ---------------------------------------------------------------------------

// document is a snapshot of an open file: its tokens and the result of
// compiling it.
type document struct {
	uri    protocol.DocumentUri
	text   string
	lang   compiler.Language
	tokens []compiler.Token
	err    error       // first compile error, if any
	labels map[int]int // GOTO line number → address, when compilation succeeded
}

func analyse(uri protocol.DocumentUri, text string, lang compiler.Language) *document {
	doc := &document{uri: uri, text: text, lang: lang}
	// Tokens up to a lexical error are still useful for navigation.
	doc.tokens, _ = compiler.Tokenize(text)

	c := compiler.NewCompiler(text, lang)
	if _, err := c.Compile(); err != nil {
		doc.err = err
	} else if lang == compiler.LangGoto {
		doc.labels = c.Labels()
	}
	return doc
}

func (d *document) diagnostics() []protocol.Diagnostic {
	if d.err == nil {
		return []protocol.Diagnostic{}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	diag := protocol.Diagnostic{
		Severity: &severity,
		Source:   &source,
		Message:  d.err.Error(),
	}

	var cerr *compiler.Error
	if errors.As(d.err, &cerr) {
		diag.Message = cerr.Msg
		if cerr.HasPosition() {
			start := lspPosition(cerr.Pos)
			end := start
			if cerr.HasSpan() && cerr.End.IsValid() {
				end = lspPosition(cerr.End)
			}
			diag.Range = protocol.Range{Start: start, End: end}
		}
	}
	return []protocol.Diagnostic{diag}
}

// keywordDocs describes the reserved words for hover.
var keywordDocs = map[string]string{
	"loop":  "`loop xN do P end` runs P as often as xN held on entry.",
	"while": "`while xN != 0 do P end` runs P until xN is zero.",
	"do":    "Starts the body of a `loop` or `while`.",
	"end":   "Closes a `loop`, `while` or `if`.",
	"if":    "`if a = b then P else Q end`, also `<=`; in GOTO programs `if a = b goto N`.",
	"then":  "Starts the branch taken when the condition holds.",
	"else":  "Starts the branch taken when the condition fails.",
	"goto":  "Jumps to the numbered line.",
}

// keywordsFor lists the reserved words a language accepts.
func keywordsFor(lang compiler.Language) []string {
	switch lang {
	case compiler.LangLoop:
		return []string{"loop", "do", "end", "if", "then", "else"}
	case compiler.LangWhile:
		return []string{"while", "do", "end", "if", "then", "else"}
	case compiler.LangGoto:
		return []string{"if", "goto"}
	}
	return compiler.Keywords()
}

func (d *document) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	for _, kw := range keywordsFor(d.lang) {
		if strings.HasPrefix(kw, lowerPrefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "keyword"
			kwCopy := kw
			items = append(items, protocol.CompletionItem{
				Label:      kw,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &kwCopy,
			})
		}
	}

	for _, name := range d.registers() {
		if strings.HasPrefix(name, lowerPrefix) && name != lowerPrefix {
			kind := protocol.CompletionItemKindVariable
			detail := "register"
			nameCopy := name
			items = append(items, protocol.CompletionItem{
				Label:      name,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &nameCopy,
			})
		}
	}

	return items
}

// registers returns the registers the document mentions, by index.
func (d *document) registers() []string {
	seen := make(map[uint64]bool)
	var indices []uint64
	for _, tok := range d.tokens {
		if tok.Type != compiler.TokenVar {
			continue
		}
		if idx, ok := registerIndex(tok.Literal); ok && !seen[idx] {
			seen[idx] = true
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = fmt.Sprintf("x%d", idx)
	}
	return names
}

func (d *document) hover(pos protocol.Position) *protocol.Hover {
	i, ok := d.tokenAt(pos)
	if !ok {
		return nil
	}
	tok := d.tokens[i]

	var b strings.Builder
	switch {
	case tok.Type == compiler.TokenVar:
		idx, ok := registerIndex(tok.Literal)
		if !ok {
			return nil
		}
		uses := len(d.registerUses(idx))
		fmt.Fprintf(&b, "**x%d** register %d\n\n", idx, idx)
		fmt.Fprintf(&b, "%d occurrence", uses)
		if uses != 1 {
			b.WriteString("s")
		}

	case tok.Type == compiler.TokenNum && d.isLineNumber(i):
		line, _ := strconv.Atoi(tok.Literal)
		fmt.Fprintf(&b, "**line %d**", line)
		if addr, ok := d.labels[line]; ok {
			fmt.Fprintf(&b, " at address %d", addr)
		}
		fmt.Fprintf(&b, "\n\n%d jump", len(d.jumpsTo(line)))
		if len(d.jumpsTo(line)) != 1 {
			b.WriteString("s")
		}
		b.WriteString(" to this line")

	case tok.Type.IsKeyword():
		doc, ok := keywordDocs[strings.ToLower(tok.Literal)]
		if !ok {
			return nil
		}
		b.WriteString(doc)

	default:
		return nil
	}

	r := tokenRange(tok)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
		Range: &r,
	}
}

func (d *document) definition(pos protocol.Position) []protocol.Location {
	i, ok := d.tokenAt(pos)
	if !ok {
		return nil
	}
	tok := d.tokens[i]
	if tok.Type != compiler.TokenNum || !d.isLineNumber(i) {
		return nil
	}

	line, _ := strconv.Atoi(tok.Literal)
	def, ok := d.labelDefinition(line)
	if !ok {
		return nil
	}
	return []protocol.Location{d.location(def)}
}

func (d *document) references(pos protocol.Position, includeDeclaration bool) []protocol.Location {
	i, ok := d.tokenAt(pos)
	if !ok {
		return nil
	}
	tok := d.tokens[i]

	var uses []compiler.Token
	switch {
	case tok.Type == compiler.TokenVar:
		idx, ok := registerIndex(tok.Literal)
		if !ok {
			return nil
		}
		uses = d.registerUses(idx)

	case tok.Type == compiler.TokenNum && d.isLineNumber(i):
		line, _ := strconv.Atoi(tok.Literal)
		if includeDeclaration {
			if def, ok := d.labelDefinition(line); ok {
				uses = append(uses, def)
			}
		}
		uses = append(uses, d.jumpsTo(line)...)

	default:
		return nil
	}

	locations := make([]protocol.Location, len(uses))
	for j, use := range uses {
		locations[j] = d.location(use)
	}
	return locations
}

// tokenAt finds the token under the cursor. A cursor just past a token
// still selects it.
func (d *document) tokenAt(pos protocol.Position) (int, bool) {
	for i, tok := range d.tokens {
		if tok.Type == compiler.TokenEOF {
			break
		}
		start := lspPosition(tok.Pos)
		end := lspPosition(tok.End)
		if start.Line != pos.Line {
			continue
		}
		if start.Character <= pos.Character && pos.Character <= end.Character {
			return i, true
		}
	}
	return 0, false
}

// isLabel reports whether the number token at i labels a GOTO line.
func (d *document) isLabel(i int) bool {
	if d.lang != compiler.LangGoto || d.tokens[i].Type != compiler.TokenNum {
		return false
	}
	if i+1 >= len(d.tokens) || d.tokens[i+1].Type != compiler.TokenColon {
		return false
	}
	return i == 0 || d.tokens[i-1].Type == compiler.TokenSemicolon
}

// isJump reports whether the number token at i is a goto target.
func (d *document) isJump(i int) bool {
	return d.lang == compiler.LangGoto && i > 0 &&
		d.tokens[i].Type == compiler.TokenNum && d.tokens[i-1].Type == compiler.TokenGoto
}

func (d *document) isLineNumber(i int) bool {
	return d.isLabel(i) || d.isJump(i)
}

func (d *document) labelDefinition(line int) (compiler.Token, bool) {
	for i, tok := range d.tokens {
		if d.isLabel(i) && numberEquals(tok.Literal, line) {
			return tok, true
		}
	}
	return compiler.Token{}, false
}

func (d *document) jumpsTo(line int) []compiler.Token {
	var out []compiler.Token
	for i, tok := range d.tokens {
		if d.isJump(i) && numberEquals(tok.Literal, line) {
			out = append(out, tok)
		}
	}
	return out
}

func (d *document) registerUses(idx uint64) []compiler.Token {
	var out []compiler.Token
	for _, tok := range d.tokens {
		if tok.Type != compiler.TokenVar {
			continue
		}
		if other, ok := registerIndex(tok.Literal); ok && other == idx {
			out = append(out, tok)
		}
	}
	return out
}

func (d *document) location(tok compiler.Token) protocol.Location {
	return protocol.Location{URI: d.uri, Range: tokenRange(tok)}
}

// registerIndex parses the index of a variable such as "x12" or "X12".
func registerIndex(lit string) (uint64, bool) {
	if len(lit) < 2 {
		return 0, false
	}
	idx, err := strconv.ParseUint(lit[1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func numberEquals(lit string, n int) bool {
	v, err := strconv.Atoi(lit)
	return err == nil && v == n
}

// lspPosition converts a 1-based source position to a 0-based LSP one.
func lspPosition(p compiler.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

func tokenRange(tok compiler.Token) protocol.Range {
	return protocol.Range{Start: lspPosition(tok.Pos), End: lspPosition(tok.End)}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			start--
		} else {
			break
		}
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

func boolPtr(b bool) *bool {
	return &b
}
