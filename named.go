// named.go
package sqlmap

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placeholder selects the positional parameter style for a target database.
//
// Common choices:
//   - PlaceholderQuestion   → "?"           (MySQL, SQLite, DuckDB, ClickHouse)
//   - PlaceholderDollar     → "$1, $2, …"  (PostgreSQL)
//   - PlaceholderAtP        → "@p1, @p2…"  (SQL Server)
//   - PlaceholderColonNum   → ":1, :2, …"  (Oracle)
//   - PlaceholderNamed      → "@name"      (drivers that accept sql.Named)
type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota
	PlaceholderDollar
	PlaceholderAtP
	PlaceholderColonNum
	PlaceholderNamed
)

// Dialect describes how bound SQL is rendered for a driver.
type Dialect struct {
	Placeholder Placeholder
	// Arrays binds list parameters as one native array argument (pq.Array)
	// instead of expanding them into one placeholder per element.
	Arrays bool
}

// DialectFor picks a Dialect based on a driver name string. PostgreSQL
// drivers get dollar placeholders with native arrays.
//
//	m := sqlmap.NewMapper(sqlmap.WithDialect(sqlmap.DialectFor("pgx")))
func DialectFor(driverName string) Dialect {
	ph := PlaceholderFor(driverName)
	return Dialect{Placeholder: ph, Arrays: ph == PlaceholderDollar}
}

// PlaceholderFor picks a Placeholder based on a driver name string.
// This is a convenience for one-off calls; you can also choose the enum directly.
//
// Examples:
//
//	ph := sqlmap.PlaceholderFor("pgx")       // => PlaceholderDollar
//	ph := sqlmap.PlaceholderFor("sqlserver") // => PlaceholderAtP
//	ph := sqlmap.PlaceholderFor("mysql")     // => PlaceholderQuestion
func PlaceholderFor(driverName string) Placeholder {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql", "lib/pq", "pg":
		return PlaceholderDollar
	case "sqlserver", "mssql":
		return PlaceholderAtP
	case "godror", "oracle", "goracle":
		return PlaceholderColonNum
	default:
		return PlaceholderQuestion
	}
}

// appendPlaceholder writes the n-th (1-based) positional placeholder.
func (ph Placeholder) appendPlaceholder(out []byte, n int) []byte {
	switch ph {
	case PlaceholderDollar:
		out = append(out, '$')
		return strconv.AppendInt(out, int64(n), 10)
	case PlaceholderAtP:
		out = append(out, '@', 'p')
		return strconv.AppendInt(out, int64(n), 10)
	case PlaceholderColonNum:
		out = append(out, ':')
		return strconv.AppendInt(out, int64(n), 10)
	default:
		return append(out, '?')
	}
}

type tokenKind uint8

const (
	tokNamed      tokenKind = iota // @name or :name
	tokPositional                  // ?name?
	tokLiteral                     // {=name}
)

type token struct {
	kind     tokenKind
	name     string
	key      string // lowercased name
	start    int
	end      int
	inParens bool // written as ( @name ), so list expansion reuses the parens
}

// template is the parsed form of a SQL text: the literal text plus the
// parameter tokens found outside quotes, comments and dollar blocks.
type template struct {
	sql    string
	tokens []token
}

func parseTemplate(query string) (*template, error) {
	t := &template{sql: query}
	seen := make(map[string]bool)
	for i := 0; i < len(query); {
		end, inert, err := skipInert(query, i)
		if err != nil {
			return nil, err
		}
		if inert {
			i = end
			continue
		}

		kind, name, end := tokenAt(query, i)
		switch {
		case end > i && name == "":
			i = end // @@variable or :: cast
			continue
		case name != "":
			if kind == tokPositional {
				key := strings.ToLower(name)
				if seen[key] {
					return nil, &ParameterError{Name: name, SQL: query, Err: ErrAmbiguousPositional}
				}
				seen[key] = true
			}
			t.add(kind, name, i, end)
			i = end
			continue
		}
		_, w := utf8.DecodeRuneInString(query[i:])
		i += w
	}
	return t, nil
}

// tokenAt recognizes a parameter token starting at s[i]. A non-empty name is
// a token spanning s[i:end]; an empty name with end > i is text that looks
// like a token but is not one.
func tokenAt(s string, i int) (kind tokenKind, name string, end int) {
	switch s[i] {
	case '@':
		if hasPrefix(s[i:], "@@") {
			_, end = parseIdent(s, i+2)
			return 0, "", end
		}
		name, end = parseNamedIdent(s, i+1)
		return tokNamed, name, end
	case ':':
		if hasPrefix(s[i:], "::") {
			return 0, "", i + 2
		}
		name, end = parseNamedIdent(s, i+1)
		return tokNamed, name, end
	case '?':
		if name, end = parseNamedIdent(s, i+1); name != "" && end < len(s) && s[end] == '?' {
			return tokPositional, name, end + 1
		}
	case '{':
		if !hasPrefix(s[i:], "{=") {
			break
		}
		if name, end = parseNamedIdent(s, i+2); name != "" && end < len(s) && s[end] == '}' {
			return tokLiteral, name, end + 1
		}
	}
	return 0, "", i
}

func (t *template) add(kind tokenKind, name string, start, end int) {
	t.tokens = append(t.tokens, token{
		kind:     kind,
		name:     name,
		key:      strings.ToLower(name),
		start:    start,
		end:      end,
		inParens: enclosedInParens(t.sql, start, end),
	})
}

// enclosedInParens reports whether s[start:end] is the only thing between a
// pair of parentheses, ignoring whitespace.
func enclosedInParens(s string, start, end int) bool {
	i := start - 1
	for i >= 0 && isSpace(s[i]) {
		i--
	}
	if i < 0 || s[i] != '(' {
		return false
	}
	j := end
	for j < len(s) && isSpace(s[j]) {
		j++
	}
	return j < len(s) && s[j] == ')'
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

// rewritePlaceholders converts '?' placeholders to ph. It is used for Args,
// where the caller already wrote positional SQL.
func rewritePlaceholders(query string, ph Placeholder) string {
	if ph == PlaceholderQuestion || ph == PlaceholderNamed {
		return query
	}
	out := make([]byte, 0, len(query)+16)
	arg := 1
	for i := 0; i < len(query); {
		if end, inert, err := skipInert(query, i); inert {
			if err != nil {
				end = len(query)
			}
			out = append(out, query[i:end]...)
			i = end
			continue
		}
		if query[i] == '?' {
			out = ph.appendPlaceholder(out, arg)
			arg++
		} else {
			out = append(out, query[i])
		}
		i++
	}
	return string(out)
}

// skipInert returns the end of the string literal, quoted identifier,
// comment or dollar-quoted block starting at s[i]. inert is false when s[i]
// starts none of them.
func skipInert(s string, i int) (end int, inert bool, err error) {
	switch s[i] {
	case '\'':
		end, err = skipQuoted(s, i+1, '\'', "single-quoted string")
	case '"':
		end, err = skipQuoted(s, i+1, '"', "double-quoted identifier")
	case '`':
		end, err = skipQuoted(s, i+1, '`', "backtick-quoted identifier")
	case '-':
		if !hasPrefix(s[i:], "--") {
			return 0, false, nil
		}
		if nl := strings.IndexByte(s[i+2:], '\n'); nl >= 0 {
			return i + 2 + nl + 1, true, nil
		}
		return len(s), true, nil
	case '/':
		if !hasPrefix(s[i:], "/*") {
			return 0, false, nil
		}
		if k := strings.Index(s[i+2:], "*/"); k >= 0 {
			return i + 2 + k + 2, true, nil
		}
		return 0, true, fmt.Errorf("sqlmap: unterminated block comment")
	case '$':
		return skipDollarQuoted(s, i)
	default:
		return 0, false, nil
	}
	return end, true, err
}

// skipQuoted scans to the closing q. A doubled q is an escaped quote.
func skipQuoted(s string, i int, q byte, what string) (int, error) {
	for {
		k := strings.IndexByte(s[i:], q)
		if k < 0 {
			return 0, fmt.Errorf("sqlmap: unterminated %s", what)
		}
		i += k + 1
		if i < len(s) && s[i] == q {
			i++
			continue
		}
		return i, nil
	}
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ (PostgreSQL). "$1" is
// not a dollar block.
func skipDollarQuoted(s string, i int) (int, bool, error) {
	j := i + 1
	for j < len(s) && isTagChar(rune(s[j])) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	body := s[j+1:]
	k := strings.Index(body, tag)
	if k < 0 {
		return 0, true, fmt.Errorf("sqlmap: unterminated dollar-quoted string")
	}
	return j + 1 + k + len(tag), true, nil
}

func isTagChar(r rune) bool      { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
func hasPrefix(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p }

func parseIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !isTagChar(r) {
			break
		}
		i += w
	}
	return s[start:i], i
}

// parseNamedIdent is parseIdent for parameter names, which must not start
// with a digit so that ":1" and "$1" style placeholders pass through.
func parseNamedIdent(s string, i int) (string, int) {
	if i >= len(s) {
		return "", i
	}
	if r, _ := utf8.DecodeRuneInString(s[i:]); r != '_' && !unicode.IsLetter(r) {
		return "", i
	}
	return parseIdent(s, i)
}
