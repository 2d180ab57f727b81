package sparql

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownVariable is returned when a filter names a variable the query
// does not project.
var ErrUnknownVariable = errors.New("unknown variable")

// edit replaces src[start:end] with text.
type edit struct {
	start, end int
	text       string
}

func applyEdits(src string, edits []edit) string {
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	for _, e := range edits {
		src = src[:e.start] + e.text + src[e.end:]
	}
	return src
}

// removal deletes span together with the blanks in front of it.
func removal(src string, s Span) edit {
	start := s.Start
	for start > 0 && (src[start-1] == ' ' || src[start-1] == '\t') {
		start--
	}
	return edit{start: start, end: s.End}
}

// insertion inserts text at pos, separated from its neighbours by a blank
// unless whitespace is already there.
func insertion(src string, pos int, text string) edit {
	if pos > 0 && !isBlank(src[pos-1]) {
		text = " " + text
	}
	if pos < len(src) && !isBlank(src[pos]) {
		text += " "
	}
	return edit{start: pos, end: pos, text: text}
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Paginate restricts the query to the window [offset, offset+limit). A
// negative limit leaves the window open-ended. When the query already carries
// LIMIT/OFFSET the result is the intersection of both windows; an empty
// intersection yields LIMIT 0.
func (q *Query) Paginate(offset, limit int) string {
	if offset < 0 {
		offset = 0
	}
	newOffset, newLimit := offset, limit
	if q.Offset != nil {
		newOffset += q.Offset.Value
	}
	if q.Limit != nil {
		remaining := q.Limit.Value - offset
		if remaining < 0 {
			remaining = 0
		}
		if newLimit < 0 || remaining < newLimit {
			newLimit = remaining
		}
	}

	var clauses []string
	if newLimit >= 0 {
		clauses = append(clauses, "LIMIT "+strconv.Itoa(newLimit))
	}
	if newOffset > 0 {
		clauses = append(clauses, "OFFSET "+strconv.Itoa(newOffset))
	}

	var edits []edit
	if q.Limit != nil {
		edits = append(edits, removal(q.Text, q.Limit.Span))
	}
	if q.Offset != nil {
		edits = append(edits, removal(q.Text, q.Offset.Span))
	}
	if len(clauses) > 0 {
		edits = append(edits, insertion(q.Text, q.ModifiersEnd, strings.Join(clauses, " ")))
	}
	return applyEdits(q.Text, edits)
}

// Paginate parses query and applies Query.Paginate.
func Paginate(query string, offset, limit int) (string, error) {
	q, err := Parse(query)
	if err != nil {
		return "", err
	}
	return q.Paginate(offset, limit), nil
}

// AddFilters appends FILTER constraints for the column filters to the
// outermost group pattern. Only SELECT queries can be filtered; every filter
// must name a projected variable that is not computed by an AS expression.
func (q *Query) AddFilters(filters []Filter) (string, error) {
	if len(filters) == 0 {
		return q.Text, nil
	}
	if q.Type != Select {
		return "", fmt.Errorf("%w: filters on %s query", ErrUnsupportedQuery, q.Type)
	}

	projected := make(map[string]bool)
	for _, v := range q.ProjectedVariables() {
		projected[v] = true
	}

	constraints := make([]string, 0, len(filters))
	for _, f := range filters {
		name := strings.TrimLeft(f.Variable, "?$")
		if !projected[name] {
			return "", fmt.Errorf("%w: ?%s", ErrUnknownVariable, name)
		}
		if q.Aliases[name] {
			return "", fmt.Errorf("%w: ?%s is computed by the projection", ErrUnsupportedQuery, name)
		}
		expr, err := f.Expression()
		if err != nil {
			return "", err
		}
		constraints = append(constraints, "FILTER("+expr+")")
	}
	clause := strings.Join(constraints, " ")

	closing := q.Group.End - 1
	if q.groupIsSubSelect() {
		// a sub-select must be the only member of its group
		return applyEdits(q.Text, []edit{
			insertion(q.Text, q.Group.Start+1, "{"),
			insertion(q.Text, closing, "} "+clause),
		}), nil
	}
	return applyEdits(q.Text, []edit{insertion(q.Text, closing, clause)}), nil
}

// AddFilters parses query and applies Query.AddFilters.
func AddFilters(query string, filters []Filter) (string, error) {
	q, err := Parse(query)
	if err != nil {
		return "", err
	}
	return q.AddFilters(filters)
}

func (q *Query) groupIsSubSelect() bool {
	for _, t := range q.tokens {
		if t.Start > q.Group.Start {
			return t.Is("SELECT")
		}
	}
	return false
}

// ScopeToGraphs adds a FROM clause per graph when the query has no dataset
// clause of its own, so the default graph is the merge of the given graphs.
func (q *Query) ScopeToGraphs(graphs ...string) (string, error) {
	if len(graphs) == 0 || len(q.Dataset) > 0 {
		return q.Text, nil
	}
	clauses := make([]string, 0, len(graphs))
	for _, g := range graphs {
		if g == "" || strings.ContainsAny(g, "<>\"{}|^`\\ \t\n") {
			return "", fmt.Errorf("%w: invalid graph IRI %q", ErrMalformedQuery, g)
		}
		clauses = append(clauses, "FROM <"+g+">")
	}
	return applyEdits(q.Text, []edit{insertion(q.Text, q.DatasetAt, strings.Join(clauses, " "))}), nil
}

// ScopeToGraphs parses query and applies Query.ScopeToGraphs.
func ScopeToGraphs(query string, graphs ...string) (string, error) {
	q, err := Parse(query)
	if err != nil {
		return "", err
	}
	return q.ScopeToGraphs(graphs...)
}

// CountQuery rewrites a SELECT query into one returning the number of its
// solutions in a single binding. The original query becomes a sub-select;
// its prologue is hoisted and its dataset clauses move to the outer query.
// The second result is the name of the count variable.
func (q *Query) CountQuery() (string, string, error) {
	if q.Type != Select {
		return "", "", fmt.Errorf("%w: count rewrite of %s query", ErrUnsupportedQuery, q.Type)
	}

	used := make(map[string]bool)
	for _, v := range q.Projection {
		used[v] = true
	}
	for _, v := range q.Variables() {
		used[v] = true
	}
	countVar := "count"
	for n := 1; used[countVar]; n++ {
		countVar = "count" + strconv.Itoa(n)
	}

	form := q.Text[q.PrologueEnd:]
	var dataset []string
	edits := make([]edit, 0, len(q.Dataset))
	for _, d := range q.Dataset {
		dataset = append(dataset, q.Text[d.Span.Start:d.Span.End])
		edits = append(edits, removal(form, Span{Start: d.Span.Start - q.PrologueEnd, End: d.Span.End - q.PrologueEnd}))
	}
	body := applyEdits(form, edits)

	var b strings.Builder
	b.WriteString(q.Text[:q.PrologueEnd])
	b.WriteString("SELECT (COUNT(*) AS ?" + countVar + ")")
	for _, d := range dataset {
		b.WriteString(" " + d)
	}
	b.WriteString(" WHERE {\n")
	b.WriteString(strings.TrimRight(body, " \t\n"))
	b.WriteString("\n}")
	return b.String(), countVar, nil
}

// CountQuery parses query and applies Query.CountQuery.
func CountQuery(query string) (string, string, error) {
	q, err := Parse(query)
	if err != nil {
		return "", "", err
	}
	return q.CountQuery()
}

// WithPrefixes prepends PREFIX declarations for namespace prefixes that the
// query uses without declaring them. Prefixes unknown to the map are left
// alone; the endpoint will report them.
func (q *Query) WithPrefixes(prefixes map[string]string) string {
	var missing []string
	for _, ns := range q.UsedPrefixes() {
		if _, declared := q.Prefixes[ns]; declared {
			continue
		}
		if _, known := prefixes[ns]; known {
			missing = append(missing, ns)
		}
	}
	if len(missing) == 0 {
		return q.Text
	}
	sort.Strings(missing)

	var b strings.Builder
	for _, ns := range missing {
		fmt.Fprintf(&b, "PREFIX %s: <%s>\n", ns, prefixes[ns])
	}
	b.WriteString(q.Text)
	return b.String()
}

// WithPrefixes parses query and applies Query.WithPrefixes.
func WithPrefixes(query string, prefixes map[string]string) (string, error) {
	q, err := Parse(query)
	if err != nil {
		return "", err
	}
	return q.WithPrefixes(prefixes), nil
}
