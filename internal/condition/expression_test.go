package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	doc := invoice()
	cases := []struct {
		name string
		expr string
		want bool
	}{
		{"word operator", `mimeType equals "application/pdf"`, true},
		{"symbol operator", `size > 1000`, true},
		{"symbol equality", `name == 'INVOICE-2024.pdf'`, true},
		{"and", `mimeType equals "application/pdf" AND size < 1000`, false},
		{"or", `mimeType equals "image/png" OR size >= 2048`, true},
		{"not", `NOT name contains "draft"`, true},
		{"parens", `NOT (tags in "finance" AND size > 1)`, false},
		{"unary", `metadata.absent isNull`, true},
		{"list operand", `extension in ["doc", "pdf"]`, true},
		{"matches alias", `name matches "Invoice-.*"`, true},
		{"constants", `TRUE AND NOT FALSE`, true},
		{"metadata number", `metadata.pages gte 3`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Parse(tc.expr)
			require.NoError(t, err)
			require.NoError(t, Validate(c))
			assert.Equal(t, tc.want, Evaluate(c, doc))
		})
	}
}

func TestParse_FlattensChains(t *testing.T) {
	c, err := Parse(`a equals 1 AND b equals 2 AND c equals 3 OR d isNull`)
	require.NoError(t, err)

	or, ok := c.(*Or)
	require.True(t, ok, "top level is OR, got %T", c)
	require.Len(t, or.Children, 2)
	and, ok := or.Children[0].(*And)
	require.True(t, ok)
	assert.Len(t, and.Children, 3)
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`"unterminated`,
		`size 1000`,
		``,
		`name equals`,
		`(name equals "x"`,
		`name = "x"`,
		`name equals "x" extra`,
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Error(t, err)
		})
	}
}
