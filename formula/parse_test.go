package formula_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsheet/gridsheet/formula"
	"github.com/gridsheet/gridsheet/sheet"
)

func tokenize(text string) []sheet.Token {
	return formula.NewParser().ParseFormulaIntoTokens(text)
}

func TestTokenizeArithmetic(t *testing.T) {
	tokens := tokenize("A1+2.5*(B2-1)")
	types := []sheet.TokenType{}
	texts := []string{}
	for _, tok := range tokens {
		types = append(types, tok.Type)
		texts = append(texts, tok.Text)
	}
	assert.Equal(t, []string{"A1", "+", "2.5", "*", "(", "B2", "-", "1", ")"}, texts)
	assert.Equal(t, sheet.TokenCoord, types[0])
	assert.Equal(t, sheet.TokenNum, types[2])
	assert.Equal(t, sheet.TokenOp, types[3])
}

func TestTokenizeStringDoubling(t *testing.T) {
	tokens := tokenize(`"he said ""hi"""&A1`)
	require.Len(t, tokens, 3)
	assert.Equal(t, sheet.TokenText, tokens[0].Type)
	assert.Equal(t, `he said "hi"`, tokens[0].Text)
	assert.Equal(t, "&", tokens[1].Text)
}

func TestTokenizeFunctionVersusName(t *testing.T) {
	tokens := tokenize("SUM(A1:A3)+total")
	assert.Equal(t, sheet.TokenFunction, tokens[0].Type)
	assert.Equal(t, "SUM", tokens[0].Text)
	last := tokens[len(tokens)-1]
	assert.Equal(t, sheet.TokenName, last.Type)
	assert.Equal(t, "TOTAL", last.Text)
}

func TestTokenizeAnchorsPreserved(t *testing.T) {
	tokens := tokenize("$A$1+B$2")
	assert.Equal(t, "$A$1", tokens[0].Text)
	assert.Equal(t, "B$2", tokens[2].Text)
}

func TestTokenizeSheetQualifiedCoord(t *testing.T) {
	tokens := tokenize("Budget!B2+1")
	require.GreaterOrEqual(t, len(tokens), 3)
	assert.Equal(t, sheet.TokenCoord, tokens[0].Type)
	assert.Equal(t, "B2", tokens[0].Text)
	assert.Equal(t, "Budget", tokens[0].Sheet)
}

func TestTokenizeSheetQualifiedRangeQualifiesBothEnds(t *testing.T) {
	tokens := tokenize("SUM(Data!A1:B3)")
	var coords []sheet.Token
	for _, tok := range tokens {
		if tok.Type == sheet.TokenCoord {
			coords = append(coords, tok)
		}
	}
	require.Len(t, coords, 2)
	assert.Equal(t, "Data", coords[0].Sheet)
	assert.Equal(t, "Data", coords[1].Sheet, "the far end of a qualified range belongs to the same sheet")
}

func TestTokenizeComparisonOperators(t *testing.T) {
	tokens := tokenize("A1<=B1")
	assert.Equal(t, "<=", tokens[1].Text)
	tokens = tokenize("A1<>B1")
	assert.Equal(t, "<>", tokens[1].Text)
}

func TestTokenizeErrorToken(t *testing.T) {
	tokens := tokenize("#REF!+1")
	assert.Equal(t, sheet.TokenError, tokens[0].Type)
	assert.Equal(t, "#REF!", tokens[0].Text)
}

func TestTokenizeScientificNotation(t *testing.T) {
	tokens := tokenize("1.5e3+2E-2")
	assert.Equal(t, "1.5e3", tokens[0].Text)
	assert.Equal(t, "2E-2", tokens[2].Text)
	assert.Equal(t, sheet.TokenNum, tokens[2].Type)
}
