// Package sqltoken tokenizes a SELECT-style SQL string with a single
// master regular expression built from an ordered list of per-token-kind
// patterns, rather than a hand-rolled character scanner: each kind gets
// its own capture group, and the first group that matched tells
// the tokenizer which kind it produced.
package sqltoken

import (
	"regexp"
	"strconv"
	"strings"

	"batchql/internal/errgo"
)

// Kind classifies a token.
type Kind int

const (
	KindEOF Kind = iota
	KindNumber
	KindString
	KindIdentifier
	KindKeyword
	KindOperator
	KindComma
	KindLParen
	KindRParen
	KindDot
	KindStar
	KindSemicolon
)

func (k Kind) String() string {
	switch k {
	case KindEOF:
		return "EOF"
	case KindNumber:
		return "NUMBER"
	case KindString:
		return "STRING"
	case KindIdentifier:
		return "IDENTIFIER"
	case KindKeyword:
		return "KEYWORD"
	case KindOperator:
		return "OPERATOR"
	case KindComma:
		return "COMMA"
	case KindLParen:
		return "LPAREN"
	case KindRParen:
		return "RPAREN"
	case KindDot:
		return "DOT"
	case KindStar:
		return "STAR"
	case KindSemicolon:
		return "SEMICOLON"
	default:
		return "UNKNOWN"
	}
}

// Token is one lexeme plus its source position (byte offset into the
// original query, for error reporting).
type Token struct {
	Kind Kind
	Text string
	Pos  int
}

// keywords recognized case-insensitively; anything else that matches the
// identifier pattern is KindIdentifier.
var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"ORDER": true, "ASC": true, "DESC": true, "LIMIT": true, "OFFSET": true,
	"AS": true, "AND": true, "OR": true, "NOT": true, "NULL": true,
	"JOIN": true, "INNER": true, "ON": true, "TRUE": true, "FALSE": true,
	"IN": true, "IS": true,
}

// tokenSpec is one pattern in match priority order. Go's regexp
// alternation is leftmost-first, not longest-match, so a pattern earlier
// in the list wins even over a longer match later in it (e.g. a
// multi-character operator like "<=" must be listed before "<").
type tokenSpec struct {
	kind    Kind
	pattern string
}

var specs = []tokenSpec{
	{KindNumber, `[0-9]+\.[0-9]+|[0-9]+`},
	{KindString, `'(?:[^']|'')*'`},
	{KindIdentifier, `[A-Za-z_][A-Za-z0-9_]*`},
	{KindOperator, `<=|>=|<>|!=|=|<|>|\+|-|\*|/`},
	{KindComma, `,`},
	{KindLParen, `\(`},
	{KindRParen, `\)`},
	{KindDot, `\.`},
	{KindSemicolon, `;`},
}

// master is built once from specs: one capture group per kind, joined
// with alternation, so a single FindStringSubmatchIndex call both finds
// the next token and tells us which group (= which kind) produced it.
var master = buildMaster()

func buildMaster() *regexp.Regexp {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = "(" + s.pattern + ")"
	}
	return regexp.MustCompile(`^(?:` + strings.Join(parts, "|") + `)`)
}

var whitespace = regexp.MustCompile(`^[ \t\r\n]+`)

// Tokenize splits query into tokens, skipping whitespace, and appends a
// trailing KindEOF token. The '*' operator pattern overlaps with the
// SELECT-list star; callers that need to distinguish "multiply" from
// "select all columns" do so positionally in the parser, the same place
// the grammar itself disambiguates the two.
func Tokenize(query string) ([]Token, error) {
	var tokens []Token
	pos := 0
	for pos < len(query) {
		rest := query[pos:]
		if loc := whitespace.FindStringIndex(rest); loc != nil {
			pos += loc[1]
			continue
		}
		loc := master.FindStringSubmatchIndex(rest)
		if loc == nil {
			return nil, errgo.At(errgo.KindLex, pos, "unrecognized character '"+string(rest[0])+"'")
		}
		kind, text := classify(rest, loc)
		tok := Token{Kind: kind, Text: text, Pos: pos}
		if kind == KindIdentifier && keywords[strings.ToUpper(text)] {
			tok.Kind = KindKeyword
			tok.Text = strings.ToUpper(text)
		}
		if kind == KindOperator && text == "*" {
			tok.Kind = KindStar
		}
		if kind == KindString {
			tok.Text = unescapeString(text)
		}
		tokens = append(tokens, tok)
		pos += loc[1]
	}
	tokens = append(tokens, Token{Kind: KindEOF, Text: "", Pos: pos})
	return tokens, nil
}

// classify finds which of the per-kind capture groups matched and
// returns its kind and matched text.
func classify(s string, loc []int) (Kind, string) {
	for i, spec := range specs {
		start, end := loc[2+2*i], loc[2+2*i+1]
		if start >= 0 {
			return spec.kind, s[start:end]
		}
	}
	// unreachable: master only matches if some alternative matched
	return KindEOF, ""
}

func unescapeString(lexeme string) string {
	inner := lexeme[1 : len(lexeme)-1]
	return strings.ReplaceAll(inner, "''", "'")
}

// ParseNumber converts a KindNumber token's text to an int64 or float64,
// matching the literal-kind inference the planner needs when lowering a
// numeric literal expression.
func ParseNumber(text string) (any, error) {
	if strings.Contains(text, ".") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errgo.Wrap(errgo.KindLex, "invalid number "+text, err)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, errgo.Wrap(errgo.KindLex, "invalid number "+text, err)
	}
	return n, nil
}
