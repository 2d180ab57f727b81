package sparql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		expr    string
		want    Filter
		wantErr bool
	}{
		{expr: "name~prague", want: Filter{Variable: "name", Value: "prague", Mode: FilterContains}},
		{expr: "?s=http://a", want: Filter{Variable: "s", Value: "http://a", Mode: FilterEquals}},
		{expr: "label=~^Pra.*", want: Filter{Variable: "label", Value: "^Pra.*", Mode: FilterRegex}},
		{expr: "label@en", want: Filter{Variable: "label", Value: "en", Mode: FilterLang}},
		{expr: "x=a~b", want: Filter{Variable: "x", Value: "a~b", Mode: FilterEquals}},
		{expr: "novalue=", wantErr: true},
		{expr: "x=~", wantErr: true},
		{expr: "~text", wantErr: true},
		{expr: "plain", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseFilter(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterExpression(t *testing.T) {
	tests := []struct {
		filter Filter
		want   string
	}{
		{Filter{Variable: "o", Value: "ABC"}, `CONTAINS(LCASE(STR(?o)), "abc")`},
		{Filter{Variable: "$o", Value: "a\nb", Mode: FilterEquals}, `STR(?o) = "a\nb"`},
		{Filter{Variable: "o", Value: `\d+`, Mode: FilterRegex}, `REGEX(STR(?o), "\\d+", "i")`},
		{Filter{Variable: "o", Value: "de", Mode: FilterLang}, `LANGMATCHES(LANG(?o), "de")`},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := tt.filter.Expression()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Filter{Variable: "o", Value: "x", Mode: "fuzzy"}.Expression()
	assert.Error(t, err)
}

func TestFilterMatcher(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		value  string
		lang   string
		want   bool
	}{
		{"contains ignores case", Filter{Value: "PRAG"}, "Prague", "", true},
		{"contains miss", Filter{Value: "brno"}, "Prague", "", false},
		{"equals exact", Filter{Value: "Prague", Mode: FilterEquals}, "Prague", "", true},
		{"equals is case sensitive", Filter{Value: "prague", Mode: FilterEquals}, "Prague", "", false},
		{"regex ignores case", Filter{Value: "^pra", Mode: FilterRegex}, "Prague", "", true},
		{"lang subtag", Filter{Value: "en", Mode: FilterLang}, "Prague", "en-GB", true},
		{"lang mismatch", Filter{Value: "en", Mode: FilterLang}, "Praha", "cs", false},
		{"lang wildcard", Filter{Value: "*", Mode: FilterLang}, "Praha", "cs", true},
		{"lang wildcard needs a tag", Filter{Value: "*", Mode: FilterLang}, "Praha", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := tt.filter.Matcher()
			require.NoError(t, err)
			assert.Equal(t, tt.want, match(tt.value, tt.lang))
		})
	}

	_, err := Filter{Value: "(", Mode: FilterRegex}.Matcher()
	assert.Error(t, err)
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, `"plain"`, Literal("plain"))
	assert.Equal(t, `"tab\there \"quoted\" back\\slash"`, Literal("tab\there \"quoted\" back\\slash"))
}
