package slug

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "punctuation", title: "My Great Idea!!", want: "my-great-idea"},
		{name: "whitespace runs", title: "  Data \t Mesh\n101  ", want: "data-mesh-101"},
		{name: "hyphen runs", title: "ETL -- vs -- ELT", want: "etl-vs-elt"},
		{name: "edge hyphens", title: "-leading and trailing-", want: "leading-and-trailing"},
		{name: "non ascii dropped", title: "Café Ünïcode", want: "caf-ncode"},
		{name: "empty", title: "!!!", want: ""},
		{name: "no-break space", title: "Data\u00a0Lake", want: "data-lake"},
		{name: "vertical tab", title: "Data\vLake", want: "data-lake"},
		{name: "em space", title: "Data\u2003Lake", want: "data-lake"},
		{name: "ideographic space", title: "Data\u3000Lake", want: "data-lake"},
		{name: "line separator", title: "Data\u2028Lake", want: "data-lake"},
		{name: "byte order mark", title: "\ufeffData Lake", want: "data-lake"},
		{name: "zero width space dropped", title: "Data\u200bLake", want: "datalake"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Make(tt.title))
		})
	}
}

func TestMakeIsIdempotent(t *testing.T) {
	t.Parallel()

	valid := regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	inputs := []string{
		"My Great Idea!!",
		"  --Spaces   and -- dashes--  ",
		"Q3 2025: What's next for the lakehouse?",
		"UPPER lower MiXeD",
	}
	for _, in := range inputs {
		once := Make(in)
		require.Equal(t, once, Make(once), "input %q", in)
		require.Regexp(t, valid, once)
	}
}
