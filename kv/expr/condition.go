package expr

import "fmt"

// ConditionParser parses the condition/filter expression grammar
// (spec.md §4.8):
//
//	Expr    := OrExpr
//	OrExpr  := AndExpr (OR AndExpr)*
//	AndExpr := NotExpr (AND NotExpr)*
//	NotExpr := NOT NotExpr | Cmp
//	Cmp     := Operand (= | <> | < | <= | > | >=) Operand
//	        |  Operand BETWEEN Operand AND Operand
//	        |  Operand IN '(' Operand (',' Operand)* ')'
//	        |  Func
//	        |  '(' Expr ')'
type ConditionParser struct{ *base }

// ParseCondition tokenizes and parses a full condition/filter expression.
func ParseCondition(s string) (Node, error) {
	toks, err := Tokenize(s)
	if err != nil {
		return nil, err
	}
	p := &ConditionParser{newBase(toks)}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokEOF {
		return nil, fmt.Errorf("unexpected trailing token %s (%q) at pos %d", p.peek().Type, p.peek().Value, p.peek().Pos)
	}
	return node, nil
}

func (p *ConditionParser) parseExpr() (Node, error) { return p.parseOr() }

func (p *ConditionParser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for keywordEquals(p.peek(), "OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = OrNode{Left: left, Right: right}
	}
	return left, nil
}

func (p *ConditionParser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for keywordEquals(p.peek(), "AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = AndNode{Left: left, Right: right}
	}
	return left, nil
}

func (p *ConditionParser) parseNot() (Node, error) {
	if keywordEquals(p.peek(), "NOT") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotNode{Operand: operand}, nil
	}
	return p.parseCmp()
}

func (p *ConditionParser) parseCmp() (Node, error) {
	if p.peek().Type == TokLParen {
		p.advance()
		node, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return node, nil
	}

	if fn, ok, err := p.tryParseFunc(); ok || err != nil {
		return fn, err
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch {
	case p.peek().Type == TokOp:
		op := p.advance().Value
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return CmpNode{Op: op, Left: left, Right: right}, nil
	case keywordEquals(p.peek(), "BETWEEN"):
		p.advance()
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !keywordEquals(p.peek(), "AND") {
			return nil, fmt.Errorf("expected AND in BETWEEN at pos %d", p.peek().Pos)
		}
		p.advance()
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return BetweenNode{Operand: left, Low: low, High: high}, nil
	case keywordEquals(p.peek(), "IN"):
		p.advance()
		if _, err := p.expect(TokLParen); err != nil {
			return nil, err
		}
		var set []Operand
		for {
			op, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			set = append(set, op)
			if p.peek().Type == TokComma {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return InNode{Operand: left, Set: set}, nil
	}
	return nil, fmt.Errorf("expected comparison operator, BETWEEN, or IN at pos %d, got %s (%q)", p.peek().Pos, p.peek().Type, p.peek().Value)
}

var funcNames = map[string]bool{
	"attribute_exists":     true,
	"attribute_not_exists": true,
	"attribute_type":       true,
	"begins_with":          true,
	"contains":             true,
	"size":                 true,
}

// tryParseFunc speculatively parses a Func or size(path) OP operand
// form; the caller falls through to operand/comparator parsing if the
// current identifier isn't a known function name.
func (p *ConditionParser) tryParseFunc() (Node, bool, error) {
	tok := p.peek()
	if tok.Type != TokIdent || !funcNames[tok.Value] || !p.nextIs(TokLParen) {
		return nil, false, nil
	}
	name := tok.Value
	p.advance()
	p.advance() // (

	path, err := p.parsePath()
	if err != nil {
		return nil, true, err
	}

	var arg Operand
	hasArg := false
	if name == "attribute_type" || name == "begins_with" || name == "contains" {
		if _, err := p.expect(TokComma); err != nil {
			return nil, true, err
		}
		arg, err = p.parseOperand()
		if err != nil {
			return nil, true, err
		}
		hasArg = true
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, true, err
	}

	if name == "size" && p.peek().Type == TokOp {
		op := p.advance().Value
		right, err := p.parseOperand()
		if err != nil {
			return nil, true, err
		}
		return SizeCmpNode{Path: path, Op: op, Right: right}, true, nil
	}

	fn := FuncNode{Name: name, Path: path}
	if hasArg {
		fn.Arg = arg
	}
	return fn, true, nil
}
