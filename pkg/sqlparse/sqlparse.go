// Package sqlparse is a recursive-descent parser with precedence
// climbing over the token stream pkg/sqltoken produces, building the
// pkg/sqlast tree pkg/planner lowers into a physical plan.
package sqlparse

import (
	"fmt"
	"strings"

	"batchql/internal/errgo"
	"batchql/pkg/sqlast"
	"batchql/pkg/sqltoken"
)

// Parser holds the token stream and current read position.
type Parser struct {
	tokens []sqltoken.Token
	pos    int
}

// Parse tokenizes and parses a single SELECT statement.
func Parse(query string) (*sqlast.Select, error) {
	toks, err := sqltoken.Tokenize(query)
	if err != nil {
		return nil, err
	}
	if first := toks[0]; first.Kind == sqltoken.KindIdentifier {
		switch kw := strings.ToUpper(first.Text); kw {
		case "INSERT", "UPDATE":
			return nil, errgo.Wrap(errgo.KindNotImplemented, kw+" statements", errgo.ErrNotImplemented)
		}
	}
	p := &Parser{tokens: toks}
	stmt, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if !p.atKind(sqltoken.KindEOF) {
		return nil, p.errorf("unexpected trailing input %q", p.cur().Text)
	}
	return stmt, nil
}

func (p *Parser) cur() sqltoken.Token  { return p.tokens[p.pos] }
func (p *Parser) advance() sqltoken.Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) atKind(k sqltoken.Kind) bool { return p.cur().Kind == k }

func (p *Parser) atKeyword(kw string) bool {
	return p.cur().Kind == sqltoken.KindKeyword && p.cur().Text == kw
}

func (p *Parser) eatKeyword(kw string) (sqltoken.Token, error) {
	if !p.atKeyword(kw) {
		return sqltoken.Token{}, p.errorf("expected %s, got %q", kw, p.cur().Text)
	}
	return p.advance(), nil
}

func (p *Parser) eatKind(k sqltoken.Kind) (sqltoken.Token, error) {
	if !p.atKind(k) {
		return sqltoken.Token{}, p.errorf("expected %s, got %q", k, p.cur().Text)
	}
	return p.advance(), nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return errgo.At(errgo.KindParse, p.cur().Pos, fmt.Sprintf(format, args...))
}

func (p *Parser) parseSelect() (*sqlast.Select, error) {
	if _, err := p.eatKeyword("SELECT"); err != nil {
		return nil, err
	}
	projection, err := p.parseProjectionList()
	if err != nil {
		return nil, err
	}
	stmt := &sqlast.Select{Projection: projection}

	if _, err := p.eatKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.From = from

	for p.atKeyword("JOIN") || p.atKeyword("INNER") {
		join, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, join)
	}

	if p.atKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.atKeyword("GROUP") {
		p.advance()
		if _, err := p.eatKeyword("BY"); err != nil {
			return nil, err
		}
		keys, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = keys
	}

	if p.atKeyword("ORDER") {
		p.advance()
		if _, err := p.eatKeyword("BY"); err != nil {
			return nil, err
		}
		terms, err := p.parseOrderingList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = terms
	}

	if p.atKeyword("LIMIT") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}

	if p.atKeyword("OFFSET") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}

	if p.atKind(sqltoken.KindSemicolon) {
		p.advance()
	}
	return stmt, nil
}

func (p *Parser) parseIntLiteral() (int64, error) {
	tok, err := p.eatKind(sqltoken.KindNumber)
	if err != nil {
		return 0, err
	}
	v, err := sqltoken.ParseNumber(tok.Text)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	default:
		return 0, p.errorf("expected an integer literal")
	}
}

func (p *Parser) parseProjectionList() ([]sqlast.ProjectionItem, error) {
	var items []sqlast.ProjectionItem
	for {
		if p.atKind(sqltoken.KindStar) {
			p.advance()
			items = append(items, sqlast.ProjectionItem{Expr: &sqlast.Star{}})
		} else {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			alias := ""
			if p.atKeyword("AS") {
				p.advance()
				tok, err := p.eatKind(sqltoken.KindIdentifier)
				if err != nil {
					return nil, err
				}
				alias = tok.Text
			}
			items = append(items, sqlast.ProjectionItem{Expr: e, Alias: alias})
		}
		if p.atKind(sqltoken.KindComma) {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseExprList() ([]sqlast.Expr, error) {
	var out []sqlast.Expr
	for {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if p.atKind(sqltoken.KindComma) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *Parser) parseOrderingList() ([]sqlast.OrderingTerm, error) {
	var out []sqlast.OrderingTerm
	for {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		desc := false
		if p.atKeyword("ASC") {
			p.advance()
		} else if p.atKeyword("DESC") {
			p.advance()
			desc = true
		}
		out = append(out, sqlast.OrderingTerm{Expr: e, Descending: desc})
		if p.atKind(sqltoken.KindComma) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *Parser) parseTableRef() (sqlast.TableRef, error) {
	tok, err := p.eatKind(sqltoken.KindIdentifier)
	if err != nil {
		return sqlast.TableRef{}, err
	}
	ref := sqlast.TableRef{Name: tok.Text, Alias: tok.Text}
	if p.atKeyword("AS") {
		p.advance()
		aliasTok, err := p.eatKind(sqltoken.KindIdentifier)
		if err != nil {
			return sqlast.TableRef{}, err
		}
		ref.Alias = aliasTok.Text
	} else if p.atKind(sqltoken.KindIdentifier) {
		switch joinType := strings.ToUpper(p.cur().Text); joinType {
		case "LEFT", "RIGHT", "FULL", "CROSS", "NATURAL":
			return sqlast.TableRef{}, errgo.Wrap(errgo.KindParse, joinType+" JOIN", errgo.ErrUnsupportedJoin)
		}
		ref.Alias = p.advance().Text
	}
	return ref, nil
}

func (p *Parser) parseJoin() (sqlast.Join, error) {
	if p.atKeyword("INNER") {
		p.advance()
	}
	if _, err := p.eatKeyword("JOIN"); err != nil {
		return sqlast.Join{}, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return sqlast.Join{}, err
	}
	if _, err := p.eatKeyword("ON"); err != nil {
		return sqlast.Join{}, err
	}
	left, err := p.parseIdentifier()
	if err != nil {
		return sqlast.Join{}, err
	}
	if _, err := p.eatOperator("="); err != nil {
		return sqlast.Join{}, err
	}
	right, err := p.parseIdentifier()
	if err != nil {
		return sqlast.Join{}, err
	}
	return sqlast.Join{Table: table, LeftOn: left, RightOn: right}, nil
}

func (p *Parser) eatOperator(op string) (sqltoken.Token, error) {
	if p.cur().Kind != sqltoken.KindOperator || p.cur().Text != op {
		return sqltoken.Token{}, p.errorf("expected %q, got %q", op, p.cur().Text)
	}
	return p.advance(), nil
}

func (p *Parser) parseIdentifier() (*sqlast.Identifier, error) {
	tok, err := p.eatKind(sqltoken.KindIdentifier)
	if err != nil {
		return nil, err
	}
	id := &sqlast.Identifier{Name: tok.Text}
	if p.atKind(sqltoken.KindDot) {
		p.advance()
		col, err := p.eatKind(sqltoken.KindIdentifier)
		if err != nil {
			return nil, err
		}
		id.Qualifier = tok.Text
		id.Name = col.Text
	}
	return id, nil
}

// binding powers, precedence-climbing style: higher binds tighter.
var binaryPrecedence = map[string]int{
	"OR": 1, "AND": 2,
	"=": 3, "<>": 3, "!=": 3, "<": 3, "<=": 3, ">": 3, ">=": 3, "IS": 3, "IN": 3,
	"+": 4, "-": 4,
	"*": 5, "/": 5,
}

func (p *Parser) parseExpr(minPrec int) (sqlast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekBinaryOp()
		if !ok {
			break
		}
		prec, known := binaryPrecedence[op]
		if !known || prec < minPrec {
			break
		}
		p.consumeBinaryOp()
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &sqlast.BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// peekBinaryOp reports the binary operator at the current position
// without consuming it: an OPERATOR token verbatim, a STAR token following
// an operand (multiplication), or an upper-cased keyword (AND, OR, IS, IN)
// acting as one.
func (p *Parser) peekBinaryOp() (string, bool) {
	switch p.cur().Kind {
	case sqltoken.KindOperator:
		return p.cur().Text, true
	case sqltoken.KindStar:
		return "*", true
	case sqltoken.KindKeyword:
		switch p.cur().Text {
		case "AND", "OR", "IS", "IN":
			return p.cur().Text, true
		}
	}
	return "", false
}

func (p *Parser) consumeBinaryOp() { p.advance() }

func (p *Parser) parseUnary() (sqlast.Expr, error) {
	if p.cur().Kind == sqltoken.KindKeyword && p.cur().Text == "NOT" {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &sqlast.UnaryOp{Op: "NOT", Operand: operand}, nil
	}
	if p.cur().Kind == sqltoken.KindOperator && p.cur().Text == "-" {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &sqlast.UnaryOp{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (sqlast.Expr, error) {
	tok := p.cur()
	switch tok.Kind {
	case sqltoken.KindNumber:
		p.advance()
		v, err := sqltoken.ParseNumber(tok.Text)
		if err != nil {
			return nil, err
		}
		return &sqlast.Literal{Value: v}, nil
	case sqltoken.KindString:
		p.advance()
		return &sqlast.Literal{Value: tok.Text}, nil
	case sqltoken.KindKeyword:
		switch tok.Text {
		case "TRUE":
			p.advance()
			return &sqlast.Literal{Value: true}, nil
		case "FALSE":
			p.advance()
			return &sqlast.Literal{Value: false}, nil
		case "NULL":
			p.advance()
			return &sqlast.Literal{Value: nil}, nil
		}
		return nil, p.errorf("unexpected keyword %q in expression", tok.Text)
	case sqltoken.KindLParen:
		p.advance()
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.eatKind(sqltoken.KindRParen); err != nil {
			return nil, err
		}
		return e, nil
	case sqltoken.KindIdentifier:
		name := tok
		p.advance()
		if p.atKind(sqltoken.KindLParen) {
			return p.parseFunctionCallArgs(name.Text)
		}
		if p.atKind(sqltoken.KindDot) {
			p.advance()
			col, err := p.eatKind(sqltoken.KindIdentifier)
			if err != nil {
				return nil, err
			}
			return &sqlast.Identifier{Qualifier: name.Text, Name: col.Text}, nil
		}
		return &sqlast.Identifier{Name: name.Text}, nil
	default:
		return nil, p.errorf("unexpected token %q", tok.Text)
	}
}

func (p *Parser) parseFunctionCallArgs(name string) (sqlast.Expr, error) {
	if _, err := p.eatKind(sqltoken.KindLParen); err != nil {
		return nil, err
	}
	var args []sqlast.Expr
	if p.atKind(sqltoken.KindStar) {
		// COUNT(*): represented as a zero-arg call, the planner maps it to
		// a count aggregate over an arbitrary column (the first GROUP BY
		// key, or else the first column of the FROM table).
		p.advance()
	} else if !p.atKind(sqltoken.KindRParen) {
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		args = list
	}
	if _, err := p.eatKind(sqltoken.KindRParen); err != nil {
		return nil, err
	}
	return &sqlast.FunctionCall{Name: strings.ToUpper(name), Args: args}, nil
}
