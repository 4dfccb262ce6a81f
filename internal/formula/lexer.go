package formula

import (
	"strconv"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// reserved words that would only appear in an attempt to smuggle statements into a formula
var reservedWords = map[string]bool{
	"for": true, "while": true, "do": true, "if": true, "else": true,
	"function": true, "return": true, "var": true, "let": true, "const": true,
	"new": true, "this": true, "import": true, "eval": true,
}

var punctuation = map[byte]tokenKind{
	'+': tokPlus, '-': tokMinus, '*': tokStar, '/': tokSlash,
	'(': tokLParen, ')': tokRParen, ',': tokComma,
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func tokenize(src string) ([]token, error) {
	tokens := make([]token, 0, len(src)/2+1)
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			seenDot := false
			for i < len(src) && (isDigit(src[i]) || (src[i] == '.' && !seenDot)) {
				if src[i] == '.' {
					seenDot = true
				}
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				i++
				if i < len(src) && (src[i] == '+' || src[i] == '-') {
					i++
				}
				if i >= len(src) || !isDigit(src[i]) {
					return nil, newError(CodeSyntax, start, "malformed number")
				}
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			if i < len(src) && (isIdentStart(src[i]) || src[i] == '.') {
				return nil, newError(CodeSyntax, start, "malformed number")
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, newError(CodeSyntax, start, "malformed number")
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], num: n, pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			word := src[start:i]
			if reservedWords[word] {
				return nil, newError(CodeSyntax, start, "statements are not allowed")
			}
			if i < len(src) && (src[i] == '.' || src[i] == '[') {
				return nil, newError(CodeSyntax, i, "property access is not allowed")
			}
			tokens = append(tokens, token{kind: tokIdent, text: word, pos: start})
		default:
			kind, ok := punctuation[c]
			if !ok {
				switch c {
				case '=':
					return nil, newError(CodeSyntax, i, "assignment is not allowed")
				case '.', '[', ']':
					return nil, newError(CodeSyntax, i, "property access is not allowed")
				case '"', '\'', '`':
					return nil, newError(CodeSyntax, i, "string literals are not allowed")
				case ';', '{', '}':
					return nil, newError(CodeSyntax, i, "statements are not allowed")
				}
				return nil, newError(CodeSyntax, i, "unexpected character %q", c)
			}
			tokens = append(tokens, token{kind: kind, text: string(c), pos: i})
			i++
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}
