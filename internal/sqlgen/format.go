package sqlgen

import (
	"slices"
	"strings"
	"unicode"
)

const indentWidth = 4

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokLineComment
	tokBlockComment
	tokPunct
	tokOperator
)

type token struct {
	kind tokenKind
	text string
}

func (t token) upper() string { return strings.ToUpper(t.text) }

func (t token) is(words ...string) bool {
	if t.kind != tokWord {
		return false
	}
	u := t.upper()
	for _, w := range words {
		if u == w {
			return true
		}
	}
	return false
}

func (t token) isComment() bool {
	return t.kind == tokLineComment || t.kind == tokBlockComment
}

var keywords = toSet(`
ADD ALL ALTER ALWAYS AND ANY AS ASC BEGIN BETWEEN BY CASCADE CASE CHECK COLLATE COLUMN COMMENT COMMIT
CONCURRENTLY CONFLICT CONSTRAINT CREATE CROSS CURRENT_DATE CURRENT_TIMESTAMP CURRENT_USER DEFAULT DEFERRABLE
DELETE DESC DISTINCT DO DROP ELSE END ENUM EXCEPT EXISTS EXPLAIN EXTENSION FALSE FETCH FILTER FIRST FOR
FOREIGN FROM FULL FUNCTION GENERATED GRANT GROUP HASH HAVING IDENTITY IF ILIKE IN INDEX INHERITS INNER
INSERT INTERSECT INTO IS JOIN KEY LANGUAGE LAST LATERAL LEFT LIKE LIMIT LIST MATERIALIZED NATURAL NO NOT
NOTHING NULL NULLS OF OFFSET ON ONLY OR ORDER OUTER OVER OWNER PARTITION PRIMARY RANGE RECURSIVE REFERENCES
RENAME REPLACE RESTRICT RETURNING RETURNS REVOKE RIGHT ROLLBACK ROW ROWS SCHEMA SELECT SEQUENCE SET TABLE
TEMP TEMPORARY THEN TO TRANSACTION TRIGGER TRUE TRUNCATE TYPE UNION UNIQUE UNLOGGED UPDATE USING VALUES
VIEW WHEN WHERE WINDOW WITH WITHOUT ZONE
`)

// Type names are upper-cased like keywords but keep their modifiers attached,
// as in VARCHAR(255).
var typeNames = toSet(`
BIGINT BIGSERIAL BOOL BOOLEAN BYTEA CHAR CHARACTER CIDR DATE DECIMAL DOUBLE FLOAT INET INT INT2 INT4 INT8
INTEGER INTERVAL JSON JSONB MONEY NUMERIC PRECISION REAL SERIAL SMALLINT SMALLSERIAL TEXT TIME TIMESTAMP
TIMESTAMPTZ TIMETZ TSVECTOR UUID VARCHAR VARYING XML
`)

func toSet(words string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

func isKeyword(t token) bool {
	if t.kind != tokWord {
		return false
	}
	_, ok := keywords[t.upper()]
	return ok
}

func isTypeName(t token) bool {
	if t.kind != tokWord {
		return false
	}
	_, ok := typeNames[t.upper()]
	return ok
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentRune(r rune) bool  { return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r) }

const operatorRunes = "+-*/<>=~!@#%^&|`?:"

func tokenize(sql string) []token {
	rs := []rune(sql)
	n := len(rs)
	var out []token
	for i := 0; i < n; {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '-' && i+1 < n && rs[i+1] == '-':
			j := i
			for j < n && rs[j] != '\n' {
				j++
			}
			out = append(out, token{tokLineComment, strings.TrimRight(string(rs[i:j]), " \t\r")})
			i = j
		case c == '/' && i+1 < n && rs[i+1] == '*':
			j := i + 2
			for j+1 < n && !(rs[j] == '*' && rs[j+1] == '/') {
				j++
			}
			end := j + 2
			if end > n {
				end = n
			}
			out = append(out, token{tokBlockComment, string(rs[i:end])})
			i = end
		case c == '\'' || c == '"':
			j := quotedEnd(rs, i, c, false)
			kind := tokString
			if c == '"' {
				kind = tokQuotedIdent
			}
			out = append(out, token{kind, string(rs[i:j])})
			i = j
		case literalPrefix(rs, i) > 0:
			quote := i + literalPrefix(rs, i)
			j := quotedEnd(rs, quote, rs[quote], unicode.ToUpper(c) == 'E')
			kind := tokString
			if rs[quote] == '"' {
				kind = tokQuotedIdent
			}
			out = append(out, token{kind, string(rs[i:j])})
			i = j
		case c == '$':
			j := i + 1
			for j < n && (isIdentStart(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			if j < n && rs[j] == '$' && !(j > i+1 && unicode.IsDigit(rs[i+1])) {
				tag := string(rs[i : j+1])
				body := string(rs[j+1:])
				end := n
				if idx := strings.Index(body, tag); idx >= 0 {
					end = j + 1 + len([]rune(body[:idx])) + len([]rune(tag))
				}
				out = append(out, token{tokString, string(rs[i:end])})
				i = end
				continue
			}
			// positional parameter such as $1
			out = append(out, token{tokWord, string(rs[i:j])})
			i = j
		case isIdentStart(c):
			j := i
			for j < n && isIdentRune(rs[j]) {
				j++
			}
			out = append(out, token{tokWord, string(rs[i:j])})
			i = j
		case unicode.IsDigit(c):
			j := i
			for j < n && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			// exponent such as 1e-5 or 2.5E+10
			if j+1 < n && (rs[j] == 'e' || rs[j] == 'E') {
				k := j + 1
				if rs[k] == '+' || rs[k] == '-' {
					k++
				}
				if k < n && unicode.IsDigit(rs[k]) {
					j = k
				}
			}
			for j < n && (unicode.IsDigit(rs[j]) || unicode.IsLetter(rs[j])) {
				j++
			}
			out = append(out, token{tokNumber, string(rs[i:j])})
			i = j
		case strings.ContainsRune("(),;.[]", c):
			out = append(out, token{tokPunct, string(c)})
			i++
		case strings.ContainsRune(operatorRunes, c):
			j := i
			for j < n && strings.ContainsRune(operatorRunes, rs[j]) {
				if j > i && rs[j] == '-' && j+1 < n && rs[j+1] == '-' {
					break
				}
				j++
			}
			out = append(out, token{tokOperator, string(rs[i:j])})
			i = j
		default:
			out = append(out, token{tokOperator, string(c)})
			i++
		}
	}
	return out
}

// literalPrefix returns the length of a string-constant prefix at i, such as
// the E in E'\n', B'1010', X'FF', N'text' or U&'\0041', or 0 when there is
// none. U& also prefixes quoted identifiers.
func literalPrefix(rs []rune, i int) int {
	at := func(k int, want ...rune) bool {
		return i+k < len(rs) && slices.Contains(want, rs[i+k])
	}
	switch {
	case at(0, 'e', 'E', 'b', 'B', 'x', 'X', 'n', 'N') && at(1, '\''):
		return 1
	case at(0, 'u', 'U') && at(1, '&') && at(2, '\'', '"'):
		return 2
	}
	return 0
}

// quotedEnd returns the index just past the quote opened at start, honouring
// doubled quote escapes and, in escape strings, backslash escapes.
// Unterminated quotes run to the end of input.
func quotedEnd(rs []rune, start int, quote rune, backslash bool) int {
	j := start + 1
	for j < len(rs) {
		if backslash && rs[j] == '\\' {
			j += 2
			continue
		}
		if rs[j] == quote {
			if j+1 < len(rs) && rs[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(rs)
}

type frameKind int

const (
	frameStatement frameKind = iota
	frameSubquery
	frameList
	frameInline
)

type frame struct {
	kind    frameKind
	indent  int
	clause  string
	between bool
}

type formatter struct {
	lines          []string
	frames         []frame
	prev           token
	hasPrev        bool
	stmtFirst      string
	stmtUpdate     bool
	createTable    bool
	listOpened     bool
	objectPending  bool
	afterObject    bool
	pendingNewline bool
	pendingBreak   bool
	glueNext       bool
}

// Format pretty-prints SQL deterministically: keywords and type names are
// upper-cased, clauses start on their own line, CREATE TABLE definitions and
// subqueries are indented by four spaces. Literals, quoted identifiers and
// comments are kept verbatim.
func Format(sql string) string {
	tokens := tokenize(sql)
	if len(tokens) == 0 {
		return ""
	}
	f := &formatter{lines: []string{""}}
	f.resetStatement()
	for i, tok := range tokens {
		var next token
		hasNext := false
		for k := i + 1; k < len(tokens); k++ {
			if !tokens[k].isComment() {
				next, hasNext = tokens[k], true
				break
			}
		}
		f.emit(tok, next, hasNext)
	}
	for i := range f.lines {
		f.lines[i] = strings.TrimRight(f.lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(f.lines, "\n"))
}

func (f *formatter) resetStatement() {
	f.frames = []frame{{kind: frameStatement}}
	f.stmtFirst = ""
	f.stmtUpdate = false
	f.createTable = false
	f.listOpened = false
	f.objectPending = false
	f.afterObject = false
}

func (f *formatter) top() *frame { return &f.frames[len(f.frames)-1] }

func (f *formatter) current() string { return f.lines[len(f.lines)-1] }

func (f *formatter) lineEmpty() bool { return strings.TrimSpace(f.current()) == "" }

func (f *formatter) newline(indent int) {
	pad := strings.Repeat(" ", indent*indentWidth)
	if f.lineEmpty() {
		f.lines[len(f.lines)-1] = pad
		return
	}
	f.lines = append(f.lines, pad)
}

func (f *formatter) write(text string, space bool) {
	if space && !f.lineEmpty() {
		f.lines[len(f.lines)-1] += " "
	}
	f.lines[len(f.lines)-1] += text
}

func (f *formatter) emit(tok, next token, hasNext bool) {
	if f.pendingBreak {
		f.pendingBreak = false
		if !f.lineEmpty() {
			f.lines = append(f.lines, "", "")
		}
		f.resetStatement()
	}
	if f.pendingNewline {
		f.pendingNewline = false
		f.newline(f.top().indent)
	}

	text := tok.text
	if isKeyword(tok) || isTypeName(tok) {
		text = tok.upper()
	}
	if tok.kind == tokWord && f.stmtFirst == "" {
		f.stmtFirst = tok.upper()
		f.stmtUpdate = f.stmtFirst == "UPDATE"
	}

	switch {
	case tok.kind == tokLineComment:
		f.write(text, true)
		f.pendingNewline = true
		f.remember(tok)
		return
	case tok.kind == tokBlockComment:
		f.write(text, true)
		f.remember(tok)
		return
	case tok.kind == tokPunct && tok.text == ";":
		f.write(";", false)
		if len(f.frames) == 1 {
			f.pendingBreak = true
		}
		f.remember(tok)
		return
	case tok.kind == tokPunct && tok.text == "(":
		f.openParen(next, hasNext)
		f.remember(tok)
		return
	case tok.kind == tokPunct && tok.text == ")":
		f.closeParen()
		f.remember(tok)
		return
	case tok.kind == tokPunct && tok.text == ",":
		f.comma()
		f.remember(tok)
		return
	}

	top := f.top()
	structural := top.kind == frameStatement || top.kind == frameSubquery
	if structural && tok.kind == tokWord {
		if clause, ok := f.clauseStart(tok, next, hasNext); ok {
			f.newline(top.indent)
			top.clause = clause
			top.between = false
			f.write(text, false)
			f.trackObject(tok)
			f.remember(tok)
			return
		}
		if tok.is("BETWEEN") {
			top.between = true
		}
		if tok.is("AND", "OR") && (top.clause == "WHERE" || top.clause == "HAVING") {
			if tok.is("AND") && top.between {
				top.between = false
			} else {
				f.newline(top.indent + 1)
				f.write(text, false)
				f.remember(tok)
				return
			}
		}
	}
	if !f.createTable && f.stmtFirst == "CREATE" && tok.is("TABLE") && len(f.frames) == 1 {
		f.createTable = true
	}

	f.write(text, f.spaceBefore(tok))
	f.trackObject(tok)
	f.remember(tok)
}

func (f *formatter) remember(tok token) {
	f.prev = tok
	f.hasPrev = true
}

// clauseStart reports whether tok begins a clause that goes on its own line.
func (f *formatter) clauseStart(tok, next token, hasNext bool) (string, bool) {
	nextIs := func(words ...string) bool { return hasNext && next.is(words...) }
	switch tok.upper() {
	case "SELECT", "FROM", "WHERE", "HAVING", "LIMIT", "OFFSET", "RETURNING", "WINDOW":
		if tok.is("FROM") && f.stmtFirst == "DELETE" && f.prev.is("DELETE") {
			return "", false
		}
		if tok.is("FROM") && f.prev.is("DISTINCT") {
			return "", false
		}
		return tok.upper(), true
	case "UNION", "INTERSECT", "EXCEPT", "VALUES":
		return tok.upper(), true
	case "GROUP", "ORDER":
		if nextIs("BY") {
			return tok.upper(), true
		}
	case "JOIN":
		if f.hasPrev && f.prev.is("LEFT", "RIGHT", "FULL", "INNER", "CROSS", "OUTER", "NATURAL") {
			return "", false
		}
		return "JOIN", true
	case "LEFT", "RIGHT", "FULL", "INNER", "CROSS", "NATURAL":
		if nextIs("JOIN", "OUTER") {
			return "JOIN", true
		}
	case "SET":
		if f.stmtUpdate && f.top().kind == frameStatement {
			return "SET", true
		}
	case "ON":
		if nextIs("CONFLICT") {
			return "ON CONFLICT", true
		}
	}
	return "", false
}

func (f *formatter) spaceBefore(tok token) bool {
	if f.glueNext {
		f.glueNext = false
		return false
	}
	if !f.hasPrev {
		return false
	}
	switch {
	case tok.kind == tokPunct && (tok.text == "." || tok.text == "[" || tok.text == "]"):
		return false
	case f.prev.kind == tokPunct && (f.prev.text == "(" || f.prev.text == "." || f.prev.text == "["):
		return false
	case tok.kind == tokOperator && tok.text == "::":
		return false
	case f.prev.kind == tokOperator && f.prev.text == "::":
		return false
	}
	if tok.kind == tokOperator && (tok.text == "-" || tok.text == "+") {
		if f.prev.kind == tokOperator || f.prev.kind == tokPunct || isKeyword(f.prev) {
			f.glueNext = true
		}
	}
	return true
}

func (f *formatter) trackObject(tok token) {
	switch {
	case tok.kind == tokWord && tok.is("TABLE", "INTO", "REFERENCES", "ON", "VIEW", "INDEX"):
		f.objectPending = true
		f.afterObject = false
	case f.objectPending && tok.kind == tokWord && tok.is("IF", "NOT", "EXISTS", "ONLY", "CONCURRENTLY"):
	case f.objectPending && (tok.kind == tokWord && !isKeyword(tok) || tok.kind == tokQuotedIdent):
		f.objectPending = false
		f.afterObject = true
	case f.afterObject && tok.kind == tokPunct && tok.text == ".":
	case f.afterObject && f.prev.kind == tokPunct && f.prev.text == "." && (tok.kind == tokWord || tok.kind == tokQuotedIdent):
	default:
		f.objectPending = false
		f.afterObject = false
	}
}

func (f *formatter) openParen(next token, hasNext bool) {
	top := f.top()
	spaced := f.hasPrev && (f.afterObject || isKeyword(f.prev) || f.prev.kind == tokOperator ||
		f.prev.kind == tokPunct && f.prev.text == ",")
	if !f.hasPrev || f.lineEmpty() {
		spaced = false
	}

	switch {
	case hasNext && next.is("SELECT", "WITH", "VALUES"):
		f.write("(", spaced)
		f.frames = append(f.frames, frame{kind: frameSubquery, indent: top.indent + 1})
	case f.createTable && !f.listOpened && len(f.frames) == 1 && f.afterObject:
		f.listOpened = true
		f.write("(", true)
		f.frames = append(f.frames, frame{kind: frameList, indent: top.indent + 1})
		f.newline(top.indent + 1)
	default:
		f.write("(", spaced)
		f.frames = append(f.frames, frame{kind: frameInline, indent: top.indent})
	}
	f.afterObject = false
	f.objectPending = false
}

func (f *formatter) closeParen() {
	if len(f.frames) == 1 {
		f.write(")", false)
		return
	}
	closing := f.frames[len(f.frames)-1]
	f.frames = f.frames[:len(f.frames)-1]
	if closing.kind == frameList || closing.kind == frameSubquery {
		f.newline(closing.indent - 1)
	}
	f.write(")", false)
}

func (f *formatter) comma() {
	f.write(",", false)
	top := f.top()
	switch {
	case top.kind == frameList:
		f.newline(top.indent)
	case (top.kind == frameStatement || top.kind == frameSubquery) && top.clause == "SELECT":
		f.newline(top.indent + 1)
	}
}
