package relation

import (
	"strings"
)

// Column is one typed position of a schema.
type Column struct {
	Name string // empty unless the signature names the column
	Tag  Tag
}

// Schema is the ordered column list of a relation.
type Schema []Column

// ParseSchema reads a signature such as "s,u" or "<u:addr,s:name>".
// Tokens are separated by any of '<', ',' and '>'. The first character of a
// token is its tag and text after ':' names the column. Empty tokens and
// tokens with an unknown tag are skipped.
func ParseSchema(signature string) Schema {
	tokens := strings.FieldsFunc(signature, func(r rune) bool {
		return r == '<' || r == ',' || r == '>'
	})
	schema := make(Schema, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		tag := Tag(tok[0])
		if !tag.Valid() {
			continue
		}
		col := Column{Tag: tag}
		if _, name, ok := strings.Cut(tok, ":"); ok {
			col.Name = strings.TrimSpace(name)
		}
		schema = append(schema, col)
	}
	return schema
}

// SchemaOf derives an unnamed schema from the tags of a row.
func SchemaOf(row Row) Schema {
	schema := make(Schema, len(row))
	for i, c := range row {
		schema[i] = Column{Tag: c.Tag()}
	}
	return schema
}

// Arity is the number of columns.
func (s Schema) Arity() int { return len(s) }

// Signature renders the schema in the short "s,u" form.
func (s Schema) Signature() string {
	var b strings.Builder
	for i, c := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte(byte(c.Tag))
	}
	return b.String()
}

// Matches reports whether row has the schema's arity and column tags.
func (s Schema) Matches(row Row) bool {
	if len(row) != len(s) {
		return false
	}
	for i, c := range row {
		if c.Tag() != s[i].Tag {
			return false
		}
	}
	return true
}
