package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: non-fatal checks over a parsed program
// ---------------------------------------------------------------------------

// Severity ranks a diagnostic.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Diagnostic is a message attached to a source range.
type Diagnostic struct {
	Span     Span
	Severity Severity
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: line %d, column %d: %s", d.Severity, d.Span.Start.Line, d.Span.Start.Column, d.Message)
}

// SemanticAnalyzer looks for likely mistakes that still compile: reading
// a variable before anything was stored to it, declaring the same name
// twice, and variables that are written but never read.
//
// The language itself is permissive; none of these stop compilation.
type SemanticAnalyzer struct {
	diags    []Diagnostic
	assigned map[string]bool
	declared map[string]bool
	used     map[string]bool
	firstDef map[string]Span
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	return &SemanticAnalyzer{
		assigned: make(map[string]bool),
		declared: make(map[string]bool),
		used:     make(map[string]bool),
		firstDef: make(map[string]Span),
	}
}

// Diagnostics returns the accumulated warnings.
func (s *SemanticAnalyzer) Diagnostics() []Diagnostic {
	return s.diags
}

// warnAt records a warning at the given range.
func (s *SemanticAnalyzer) warnAt(span Span, format string, args ...interface{}) {
	s.diags = append(s.diags, Diagnostic{
		Span:     span,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
	})
}

// AnalyzeProgram checks prog in source order. Loop bodies are visited
// once, so a read that is only preceded by a store in an earlier iteration
// is still reported.
func (s *SemanticAnalyzer) AnalyzeProgram(prog *Program) {
	for _, stmt := range prog.Statements {
		s.analyzeStmt(stmt)
	}
	var unused []string
	for name := range s.firstDef {
		if !s.used[name] {
			unused = append(unused, name)
		}
	}
	sort.Slice(unused, func(i, j int) bool {
		return s.firstDef[unused[i]].Start.Offset < s.firstDef[unused[j]].Start.Offset
	})
	for _, name := range unused {
		s.warnAt(s.firstDef[name], "%s is assigned but never used", name)
	}
}

func (s *SemanticAnalyzer) analyzeStmt(stmt Stmt) {
	switch n := stmt.(type) {
	case *Block:
		for _, inner := range n.Statements {
			s.analyzeStmt(inner)
		}
	case *VarDecl:
		if n.Init != nil {
			s.analyzeExpr(n.Init)
		}
		if s.declared[n.Name] {
			s.warnAt(n.NameSpan, "%s is declared more than once", n.Name)
		}
		s.declared[n.Name] = true
		s.define(n.Name, n.NameSpan)
	case *Assign:
		s.analyzeExpr(n.Value)
		s.define(n.Name, n.NameSpan)
	case *Input:
		s.define(n.Name, n.NameSpan)
	case *Print:
		s.analyzeExpr(n.Value)
	case *If:
		s.analyzeExpr(n.Cond)
		s.analyzeStmt(n.Then)
		if n.Else != nil {
			s.analyzeStmt(n.Else)
		}
	case *While:
		s.analyzeExpr(n.Cond)
		s.analyzeStmt(n.Body)
	}
}

func (s *SemanticAnalyzer) define(name string, span Span) {
	s.assigned[name] = true
	if _, ok := s.firstDef[name]; !ok {
		s.firstDef[name] = span
	}
}

func (s *SemanticAnalyzer) analyzeExpr(expr Expr) {
	if expr == nil {
		return
	}
	Walk(expr, func(n Node) bool {
		id, ok := n.(*Identifier)
		if !ok {
			return true
		}
		s.used[id.Name] = true
		if !s.assigned[id.Name] {
			s.warnAt(id.SpanVal, "%s is read before it is assigned", id.Name)
			// one report per name
			s.assigned[id.Name] = true
		}
		return true
	})
}

// Analyze runs the semantic analyzer over prog and returns its warnings.
func Analyze(prog *Program) []Diagnostic {
	s := NewSemanticAnalyzer()
	s.AnalyzeProgram(prog)
	return s.Diagnostics()
}
