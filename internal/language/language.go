package language

import (
	"bytes"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// ParseQuery parses an executable document. Syntax errors are returned as *Error.
func ParseQuery(source string) (*QueryDocument, error) {
	return ParseNamedQuery("", source)
}

// ParseNamedQuery is ParseQuery with a source name reported in error locations.
func ParseNamedQuery(name, source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// PrintQuery renders doc back to GraphQL source text.
func PrintQuery(doc *QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// PrintQueryCompact renders doc on as few lines as the formatter allows.
func PrintQueryCompact(doc *QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf, formatter.WithCompacted()).FormatQueryDocument(doc)
	return buf.String()
}
