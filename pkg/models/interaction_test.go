package models

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// declaredConsts returns the string values of every constant in file whose
// declared type is typeName.
func declaredConsts(t *testing.T, file, typeName string) []string {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), file, nil, 0)
	require.NoError(t, err)

	var values []string
	for _, decl := range f.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.CONST {
			continue
		}
		for _, spec := range gen.Specs {
			vs := spec.(*ast.ValueSpec)
			ident, ok := vs.Type.(*ast.Ident)
			if !ok || ident.Name != typeName {
				continue
			}
			for _, v := range vs.Values {
				lit, ok := v.(*ast.BasicLit)
				require.True(t, ok, "%s constant must be a string literal", typeName)
				s, err := strconv.Unquote(lit.Value)
				require.NoError(t, err)
				values = append(values, s)
			}
		}
	}
	return values
}

func TestAllOutcomes_ListsEveryDeclaredOutcome(t *testing.T) {
	declared := declaredConsts(t, "interaction.go", "Outcome")
	require.NotEmpty(t, declared)

	listed := make([]string, len(AllOutcomes))
	for i, o := range AllOutcomes {
		listed[i] = string(o)
	}
	assert.ElementsMatch(t, declared, listed)
}

func TestAllSatisfactions_ListsEveryDeclaredSatisfaction(t *testing.T) {
	declared := declaredConsts(t, "interaction.go", "Satisfaction")
	require.NotEmpty(t, declared)

	listed := make([]string, len(AllSatisfactions))
	for i, s := range AllSatisfactions {
		listed[i] = string(s)
	}
	assert.ElementsMatch(t, declared, listed)
}
