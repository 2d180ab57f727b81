package sparql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedQuery is returned when the query cannot be tokenized or its
	// structure cannot be located.
	ErrMalformedQuery = errors.New("malformed query")

	// ErrUnsupportedQuery is returned when a rewrite does not apply to the
	// query form.
	ErrUnsupportedQuery = errors.New("unsupported query")
)

// QueryType is the form of a query.
type QueryType string

const (
	Select    QueryType = "SELECT"
	Construct QueryType = "CONSTRUCT"
	Describe  QueryType = "DESCRIBE"
	Unknown   QueryType = "UNKNOWN"
)

// Span is a byte range in the query text.
type Span struct {
	Start int
	End   int
}

// Modifier is a LIMIT or OFFSET clause.
type Modifier struct {
	Value int
	Span  Span // keyword through number
}

// DatasetClause is a FROM or FROM NAMED clause.
type DatasetClause struct {
	Named bool
	IRI   string // as written: <...> or a prefixed name
	Span  Span
}

// Query is the located structure of a query string.
type Query struct {
	Text string
	Type QueryType

	// Prefixes declared in the prologue, name -> IRI.
	Prefixes map[string]string
	Base     string

	// PrologueEnd is the offset where the query form starts.
	PrologueEnd int

	// Projection holds the SELECT variables without '?', empty for SELECT *.
	Projection []string
	SelectAll  bool

	// Aliases are projected variables bound by (expr AS ?v).
	Aliases map[string]bool

	Dataset []DatasetClause

	// DatasetAt is where new dataset clauses are inserted.
	DatasetAt int

	// Group is the outermost group graph pattern including its braces.
	// HasGroup is false for DESCRIBE queries without WHERE.
	Group    Span
	HasGroup bool

	Limit  *Modifier
	Offset *Modifier

	// ModifiersEnd is the end of the last solution modifier token (or of the
	// group) before an optional trailing VALUES block and trailing comments.
	ModifiersEnd int

	tokens []Token
}

// Classify returns the form of a query. The prologue and comments are
// skipped. ASK, updates and anything unparseable are Unknown.
func Classify(query string) QueryType {
	toks, err := Tokenize(query)
	if err != nil {
		return Unknown
	}
	toks = significant(toks)
	i := skipPrologue(toks, nil, nil)
	if i >= len(toks) {
		return Unknown
	}
	switch {
	case toks[i].Is("SELECT"):
		return Select
	case toks[i].Is("CONSTRUCT"):
		return Construct
	case toks[i].Is("DESCRIBE"):
		return Describe
	}
	return Unknown
}

// significant drops comment tokens.
func significant(toks []Token) []Token {
	out := make([]Token, 0, len(toks))
	for _, t := range toks {
		if t.Kind != TokComment {
			out = append(out, t)
		}
	}
	return out
}

// skipPrologue returns the index of the first token after BASE/PREFIX
// declarations, recording them when the maps are non-nil.
func skipPrologue(toks []Token, prefixes map[string]string, base *string) int {
	i := 0
	for i < len(toks) {
		switch {
		case toks[i].Is("BASE") && i+1 < len(toks) && toks[i+1].Kind == TokIRI:
			if base != nil {
				*base = iriValue(toks[i+1].Text)
			}
			i += 2
		case toks[i].Is("PREFIX") && i+2 < len(toks) && toks[i+1].Kind == TokPName && toks[i+2].Kind == TokIRI:
			if prefixes != nil {
				prefixes[strings.TrimSuffix(toks[i+1].Text, ":")] = iriValue(toks[i+2].Text)
			}
			i += 3
		default:
			return i
		}
	}
	return i
}

// Parse locates the structure of a SELECT, CONSTRUCT or DESCRIBE query.
func Parse(query string) (*Query, error) {
	all, err := Tokenize(query)
	if err != nil {
		return nil, err
	}
	toks := significant(all)

	q := &Query{
		Text:     query,
		Type:     Unknown,
		Prefixes: make(map[string]string),
		Aliases:  make(map[string]bool),
		tokens:   toks,
	}

	i := skipPrologue(toks, q.Prefixes, &q.Base)
	if i >= len(toks) {
		return nil, fmt.Errorf("%w: no query form", ErrMalformedQuery)
	}
	q.PrologueEnd = toks[i].Start

	switch {
	case toks[i].Is("SELECT"):
		q.Type = Select
		i, err = q.parseProjection(toks, i+1)
	case toks[i].Is("CONSTRUCT"):
		q.Type = Construct
		i, err = q.parseConstructTemplate(toks, i+1)
	case toks[i].Is("DESCRIBE"):
		q.Type = Describe
		i = q.parseDescribeTargets(toks, i+1)
	default:
		return nil, fmt.Errorf("%w: %s queries", ErrUnsupportedQuery, strings.ToUpper(toks[i].Text))
	}
	if err != nil {
		return nil, err
	}

	q.DatasetAt = offsetAt(toks, i, toks[len(toks)-1].End)
	i = q.parseDataset(toks, i)
	if len(q.Dataset) > 0 {
		q.DatasetAt = q.Dataset[len(q.Dataset)-1].Span.End
	}

	if i < len(toks) && toks[i].Is("WHERE") {
		i++
	}
	if i < len(toks) && toks[i].IsPunct("{") {
		end, err := matchBrace(toks, i)
		if err != nil {
			return nil, err
		}
		q.Group = Span{Start: toks[i].Start, End: toks[end].End}
		q.HasGroup = true
		i = end + 1
	} else if q.Type != Describe {
		return nil, fmt.Errorf("%w: missing WHERE clause", ErrMalformedQuery)
	}

	if err := q.parseModifiers(toks, i); err != nil {
		return nil, err
	}
	return q, nil
}

// MustParse is Parse for queries known to be valid. It panics on error.
func MustParse(query string) *Query {
	q, err := Parse(query)
	if err != nil {
		panic(err)
	}
	return q
}

func (q *Query) parseProjection(toks []Token, i int) (int, error) {
	if i < len(toks) && (toks[i].Is("DISTINCT") || toks[i].Is("REDUCED")) {
		i++
	}
	if i < len(toks) && toks[i].IsPunct("*") {
		q.SelectAll = true
		return i + 1, nil
	}
	for i < len(toks) {
		t := toks[i]
		switch {
		case t.Kind == TokVar:
			q.Projection = append(q.Projection, t.Text[1:])
			i++
		case t.IsPunct("("):
			end, err := matchParen(toks, i)
			if err != nil {
				return 0, err
			}
			// ( expression AS ?var )
			if end-2 > i && toks[end-1].Kind == TokVar && toks[end-2].Is("AS") {
				name := toks[end-1].Text[1:]
				q.Projection = append(q.Projection, name)
				q.Aliases[name] = true
			}
			i = end + 1
		default:
			if len(q.Projection) == 0 {
				return 0, fmt.Errorf("%w: empty projection", ErrMalformedQuery)
			}
			return i, nil
		}
	}
	return i, nil
}

func (q *Query) parseConstructTemplate(toks []Token, i int) (int, error) {
	if i < len(toks) && toks[i].IsPunct("{") {
		end, err := matchBrace(toks, i)
		if err != nil {
			return 0, err
		}
		return end + 1, nil
	}
	// CONSTRUCT WHERE { ... } short form
	return i, nil
}

func (q *Query) parseDescribeTargets(toks []Token, i int) int {
	if i < len(toks) && toks[i].IsPunct("*") {
		return i + 1
	}
	for i < len(toks) && (toks[i].Kind == TokVar || toks[i].Kind == TokIRI || toks[i].Kind == TokPName) {
		i++
	}
	return i
}

func (q *Query) parseDataset(toks []Token, i int) int {
	for i+1 < len(toks) && toks[i].Is("FROM") {
		start := toks[i].Start
		named := false
		j := i + 1
		if toks[j].Is("NAMED") {
			named = true
			j++
		}
		if j >= len(toks) || (toks[j].Kind != TokIRI && toks[j].Kind != TokPName) {
			return i
		}
		q.Dataset = append(q.Dataset, DatasetClause{
			Named: named,
			IRI:   toks[j].Text,
			Span:  Span{Start: start, End: toks[j].End},
		})
		i = j + 1
	}
	return i
}

// parseModifiers records LIMIT and OFFSET after the group. A trailing VALUES
// block ends the modifiers.
func (q *Query) parseModifiers(toks []Token, i int) error {
	q.ModifiersEnd = q.Group.End
	if !q.HasGroup {
		q.ModifiersEnd = q.DatasetAt
		if i > 0 {
			q.ModifiersEnd = toks[i-1].End
		}
	}
	depth := 0
	for ; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.IsPunct("(") || t.IsPunct("{"):
			depth++
		case t.IsPunct(")") || t.IsPunct("}"):
			depth--
		}
		if depth == 0 && t.Is("VALUES") {
			return nil
		}
		if depth == 0 && (t.Is("LIMIT") || t.Is("OFFSET")) {
			if i+1 >= len(toks) || toks[i+1].Kind != TokNumber {
				return fmt.Errorf("%w: %s without a number", ErrMalformedQuery, strings.ToUpper(t.Text))
			}
			n, err := strconv.Atoi(toks[i+1].Text)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: invalid %s %q", ErrMalformedQuery, strings.ToUpper(t.Text), toks[i+1].Text)
			}
			m := &Modifier{Value: n, Span: Span{Start: t.Start, End: toks[i+1].End}}
			if t.Is("LIMIT") {
				q.Limit = m
			} else {
				q.Offset = m
			}
			i++
			q.ModifiersEnd = toks[i].End
			continue
		}
		q.ModifiersEnd = t.End
	}
	return nil
}

// Variables returns the variables mentioned in the group pattern in order of
// first appearance, without '?'. Variables only used inside FILTER are
// skipped, as they are not in scope for SELECT *.
func (q *Query) Variables() []string {
	if !q.HasGroup {
		return nil
	}
	seen := make(map[string]bool)
	var vars []string
	for i := 0; i < len(q.tokens); i++ {
		t := q.tokens[i]
		if t.Start <= q.Group.Start || t.End > q.Group.End {
			continue
		}
		if t.Is("FILTER") {
			i = q.skipConstraint(i)
			continue
		}
		if t.Kind == TokVar {
			name := t.Text[1:]
			if !seen[name] {
				seen[name] = true
				vars = append(vars, name)
			}
		}
	}
	return vars
}

// skipConstraint returns the index of the last token of the constraint that
// follows the FILTER keyword at i: FILTER(...), FILTER regex(...) or
// FILTER NOT EXISTS { ... }.
func (q *Query) skipConstraint(i int) int {
	for j := i + 1; j < len(q.tokens); j++ {
		var end int
		var err error
		switch {
		case q.tokens[j].IsPunct("("):
			end, err = matchParen(q.tokens, j)
		case q.tokens[j].IsPunct("{"):
			end, err = matchBrace(q.tokens, j)
		case q.tokens[j].Kind == TokKeyword || q.tokens[j].Kind == TokPName || q.tokens[j].Kind == TokIRI:
			continue
		default:
			return j - 1
		}
		if err != nil {
			return len(q.tokens)
		}
		return end
	}
	return len(q.tokens)
}

// ProjectedVariables returns the variables a SELECT projects. SELECT * resolves
// to Variables.
func (q *Query) ProjectedVariables() []string {
	if q.SelectAll {
		return q.Variables()
	}
	return append([]string(nil), q.Projection...)
}

// Projection parses the query and returns its projected variables.
func Projection(query string) ([]string, error) {
	q, err := Parse(query)
	if err != nil {
		return nil, err
	}
	if q.Type != Select {
		return nil, fmt.Errorf("%w: projection of %s query", ErrUnsupportedQuery, q.Type)
	}
	return q.ProjectedVariables(), nil
}

// UsedPrefixes returns the namespace prefixes referenced by prefixed names,
// excluding blank node labels.
func (q *Query) UsedPrefixes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range q.tokens {
		if t.Kind != TokPName || t.Start < q.PrologueEnd {
			continue
		}
		ns := t.Text[:strings.IndexByte(t.Text, ':')]
		if ns == "_" || seen[ns] {
			continue
		}
		seen[ns] = true
		out = append(out, ns)
	}
	return out
}

func matchBrace(toks []Token, i int) (int, error) {
	return match(toks, i, "{", "}")
}

func matchParen(toks []Token, i int) (int, error) {
	return match(toks, i, "(", ")")
}

func match(toks []Token, i int, open, close string) (int, error) {
	depth := 0
	for j := i; j < len(toks); j++ {
		switch {
		case toks[j].IsPunct(open):
			depth++
		case toks[j].IsPunct(close):
			depth--
			if depth == 0 {
				return j, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unbalanced %s%s", ErrMalformedQuery, open, close)
}

// offsetAt returns the start offset of toks[i], or def past the end.
func offsetAt(toks []Token, i, def int) int {
	if i < len(toks) {
		return toks[i].Start
	}
	return def
}

func iriValue(text string) string {
	return strings.TrimSuffix(strings.TrimPrefix(text, "<"), ">")
}
