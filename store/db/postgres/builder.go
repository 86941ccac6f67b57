package postgres

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// clause is a SQL fragment together with the arguments bound to its `?`
// markers, in fragment order.
type clause struct {
	expr string
	args []any
}

// SQLBuilder assembles parameterized SQL for queries the safe query APIs
// cannot express, in particular the pgvector distance operator. Fragments use
// `?` markers; Build renumbers them to positional `$n` parameters in the order
// they appear in the rendered statement.
//
// The builder is append-only and copy-on-write: every Add method returns a new
// builder and never mutates its receiver, so partially built queries can be
// shared and branched safely.
type SQLBuilder struct {
	selects  []clause
	from     string
	joins    []clause
	wheres   []clause
	orderBys []clause
	limit    *int
	err      error
}

// NewSQLBuilder creates an empty builder.
func NewSQLBuilder() *SQLBuilder {
	return &SQLBuilder{}
}

func (b *SQLBuilder) clone() *SQLBuilder {
	nb := &SQLBuilder{
		selects:  append([]clause(nil), b.selects...),
		from:     b.from,
		joins:    append([]clause(nil), b.joins...),
		wheres:   append([]clause(nil), b.wheres...),
		orderBys: append([]clause(nil), b.orderBys...),
		err:      b.err,
	}
	if b.limit != nil {
		limit := *b.limit
		nb.limit = &limit
	}
	return nb
}

// AddSelect appends a select expression. Expressions render comma-separated in
// call order.
func (b *SQLBuilder) AddSelect(expr string, args ...any) *SQLBuilder {
	nb := b.clone()
	nb.selects = append(nb.selects, clause{expr: expr, args: args})
	return nb
}

// AddFrom sets the from-table. Exactly one from-table is allowed.
func (b *SQLBuilder) AddFrom(table string) *SQLBuilder {
	nb := b.clone()
	if nb.from != "" && nb.err == nil {
		nb.err = errors.Errorf("from already set to %q", nb.from)
	}
	nb.from = table
	return nb
}

// AddJoin appends a full join fragment, e.g.
// "INNER JOIN cached_embedding ce ON ce.id = f.embedding_id".
// Joins render in call order.
func (b *SQLBuilder) AddJoin(join string, args ...any) *SQLBuilder {
	nb := b.clone()
	nb.joins = append(nb.joins, clause{expr: join, args: args})
	return nb
}

// AddWhere appends a condition. Conditions are AND-ed in call order.
func (b *SQLBuilder) AddWhere(cond string, args ...any) *SQLBuilder {
	nb := b.clone()
	nb.wheres = append(nb.wheres, clause{expr: cond, args: args})
	return nb
}

// AddOrderBy appends an order expression. Expressions render comma-separated
// in call order.
func (b *SQLBuilder) AddOrderBy(expr string, args ...any) *SQLBuilder {
	nb := b.clone()
	nb.orderBys = append(nb.orderBys, clause{expr: expr, args: args})
	return nb
}

// SetLimit sets the row limit. A later call overrides an earlier one.
func (b *SQLBuilder) SetLimit(limit int) *SQLBuilder {
	nb := b.clone()
	nb.limit = &limit
	return nb
}

// Build renders the statement and its positional parameter list. It fails if
// no select expression or no from-table was added, or if any fragment's `?`
// count does not match its argument count.
func (b *SQLBuilder) Build() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if len(b.selects) == 0 {
		return "", nil, errors.New("no select expression added")
	}
	if b.from == "" {
		return "", nil, errors.New("no from-table added")
	}

	var sb strings.Builder
	args := []any{}

	render := func(c clause) error {
		marks := strings.Count(c.expr, "?")
		if marks != len(c.args) {
			return errors.Errorf("fragment %q has %d placeholders but %d args", c.expr, marks, len(c.args))
		}
		expr := c.expr
		for _, arg := range c.args {
			args = append(args, arg)
			expr = strings.Replace(expr, "?", placeholder(len(args)), 1)
		}
		sb.WriteString(expr)
		return nil
	}

	sb.WriteString("SELECT ")
	for i, c := range b.selects {
		if i > 0 {
			sb.WriteString(", ")
		}
		if err := render(c); err != nil {
			return "", nil, err
		}
	}

	sb.WriteString(" FROM ")
	sb.WriteString(b.from)

	for _, c := range b.joins {
		sb.WriteString(" ")
		if err := render(c); err != nil {
			return "", nil, err
		}
	}

	for i, c := range b.wheres {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		if err := render(c); err != nil {
			return "", nil, err
		}
	}

	for i, c := range b.orderBys {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		if err := render(c); err != nil {
			return "", nil, err
		}
	}

	if b.limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(*b.limit))
	}

	return sb.String(), args, nil
}
