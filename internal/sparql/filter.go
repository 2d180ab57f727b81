package sparql

import (
	"fmt"
	"regexp"
	"strings"
)

// FilterMode selects how a column filter compares values.
type FilterMode string

const (
	// FilterContains matches values containing the text, ignoring case.
	FilterContains FilterMode = "contains"
	// FilterEquals matches values whose lexical form equals the text.
	FilterEquals FilterMode = "equals"
	// FilterRegex matches values against a regular expression, ignoring case.
	FilterRegex FilterMode = "regex"
	// FilterLang matches literals whose language tag matches the range.
	FilterLang FilterMode = "lang"
)

// Filter is a user-entered constraint on one result column.
type Filter struct {
	Variable string     `json:"variable" validate:"required"`
	Value    string     `json:"value" validate:"required"`
	Mode     FilterMode `json:"mode,omitempty" validate:"omitempty,oneof=contains equals regex lang"`
}

// ParseFilter parses the command line form of a filter:
//
//	var~text   contains
//	var=text   equals
//	var=~re    regex
//	var@en     lang
func ParseFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	i := strings.IndexAny(expr, "~=@")
	if i <= 0 || i == len(expr)-1 {
		return Filter{}, fmt.Errorf("invalid filter %q: expected var~text, var=text, var=~regex or var@lang", expr)
	}
	f := Filter{Variable: strings.TrimLeft(expr[:i], "?$")}
	switch {
	case strings.HasPrefix(expr[i:], "=~"):
		f.Mode, f.Value = FilterRegex, expr[i+2:]
	case expr[i] == '=':
		f.Mode, f.Value = FilterEquals, expr[i+1:]
	case expr[i] == '~':
		f.Mode, f.Value = FilterContains, expr[i+1:]
	default:
		f.Mode, f.Value = FilterLang, expr[i+1:]
	}
	if f.Value == "" {
		return Filter{}, fmt.Errorf("invalid filter %q: empty value", expr)
	}
	return f, nil
}

// Expression returns the SPARQL constraint for the filter, without FILTER.
func (f Filter) Expression() (string, error) {
	v := "?" + strings.TrimLeft(f.Variable, "?$")
	switch f.mode() {
	case FilterContains:
		return fmt.Sprintf("CONTAINS(LCASE(STR(%s)), %s)", v, Literal(strings.ToLower(f.Value))), nil
	case FilterEquals:
		return fmt.Sprintf("STR(%s) = %s", v, Literal(f.Value)), nil
	case FilterRegex:
		if _, err := regexp.Compile(f.Value); err != nil {
			return "", fmt.Errorf("invalid regular expression %q: %w", f.Value, err)
		}
		return fmt.Sprintf(`REGEX(STR(%s), %s, "i")`, v, Literal(f.Value)), nil
	case FilterLang:
		return fmt.Sprintf("LANGMATCHES(LANG(%s), %s)", v, Literal(f.Value)), nil
	}
	return "", fmt.Errorf("unknown filter mode %q", f.Mode)
}

// Matcher returns a predicate applying the filter to a value's lexical form
// and language tag. It is used where the endpoint cannot filter, such as the
// rows of CONSTRUCT results.
func (f Filter) Matcher() (func(value, lang string) bool, error) {
	switch f.mode() {
	case FilterContains:
		needle := strings.ToLower(f.Value)
		return func(value, _ string) bool {
			return strings.Contains(strings.ToLower(value), needle)
		}, nil
	case FilterEquals:
		return func(value, _ string) bool { return value == f.Value }, nil
	case FilterRegex:
		re, err := regexp.Compile("(?i)" + f.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", f.Value, err)
		}
		return func(value, _ string) bool { return re.MatchString(value) }, nil
	case FilterLang:
		return func(_, lang string) bool { return LangMatches(lang, f.Value) }, nil
	}
	return nil, fmt.Errorf("unknown filter mode %q", f.Mode)
}

func (f Filter) mode() FilterMode {
	if f.Mode == "" {
		return FilterContains
	}
	return f.Mode
}

// LangMatches implements the SPARQL langMatches basic filtering.
func LangMatches(tag, rng string) bool {
	if rng == "*" {
		return tag != ""
	}
	tag, rng = strings.ToLower(tag), strings.ToLower(rng)
	return tag == rng || strings.HasPrefix(tag, rng+"-")
}

// Literal quotes s as a SPARQL string literal.
func Literal(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
