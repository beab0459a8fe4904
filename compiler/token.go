package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42
	TokenFloat      // 3.14, 1.5e10
	TokenString     // "hello"
	TokenIdentifier // foo

	// Operators
	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenSlash    // /
	TokenPower    // **
	TokenAssign   // =
	TokenEQ       // ==
	TokenNE       // !=
	TokenLT       // <
	TokenGT       // >
	TokenLE       // <=
	TokenGE       // >=

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenSemicolon // ;
	TokenColon     // :

	// Keywords
	TokenVar
	TokenPrint
	TokenRead
	TokenIf
	TokenElse
	TokenWhile
	TokenAnd
	TokenOr
	TokenNot
	TokenTrue
	TokenFalse
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPower:      "**",
	TokenAssign:     "=",
	TokenEQ:         "==",
	TokenNE:         "!=",
	TokenLT:         "<",
	TokenGT:         ">",
	TokenLE:         "<=",
	TokenGE:         ">=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenSemicolon:  ";",
	TokenColon:      ":",
	TokenVar:        "var",
	TokenPrint:      "print",
	TokenRead:       "read",
	TokenIf:         "if",
	TokenElse:       "else",
	TokenWhile:      "while",
	TokenAnd:        "and",
	TokenOr:         "or",
	TokenNot:        "not",
	TokenTrue:       "true",
	TokenFalse:      "false",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position
	End     Position // position just past the token
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Keywords mapped to their token types.
var keywords = map[string]TokenType{
	"var":   TokenVar,
	"print": TokenPrint,
	"read":  TokenRead,
	"if":    TokenIf,
	"else":  TokenElse,
	"while": TokenWhile,
	"and":   TokenAnd,
	"or":    TokenOr,
	"not":   TokenNot,
	"true":  TokenTrue,
	"false": TokenFalse,
}

// Keywords returns the reserved words of the language, for completion.
func Keywords() []string {
	return []string{"var", "print", "read", "if", "else", "while", "and", "or", "not", "true", "false"}
}

// TypeNames are the type annotations accepted in declarations.
var TypeNames = []string{"int", "float", "bool"}
