// Package gormfilter compiles compact filters into gorm clause expressions.
package gormfilter

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter"
)

// Scope adds the compact filter to the WHERE clause of the query. Parse and
// compile errors are added to the db.
func Scope(compact []any) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if db == nil {
			return nil
		}
		fdb, err := addFilter(db, compact)
		if err != nil {
			db.AddError(err)
			return db
		}
		return fdb
	}
}

// Search ORs one free-text condition per field into the query. Text fields
// match case-insensitively anywhere, other fields must equal the value and
// are skipped when the value cannot be one of theirs.
func Search(fields []datastore.SearchField, value any) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if db == nil {
			return nil
		}
		stmt, err := parseStatement(db)
		if err != nil {
			db.AddError(err)
			return db
		}
		if expr := SearchExpr(stmt, fields, value); expr != nil {
			return db.Where(expr)
		}
		return db
	}
}

// Where adds an already parsed filter to the WHERE clause of the query.
func Where(g *filter.Group) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if db == nil {
			return nil
		}
		fdb, err := addGroup(db, g)
		if err != nil {
			db.AddError(err)
			return db
		}
		return fdb
	}
}

// Order appends sorts to the ORDER BY clause, resolving selectors like
// filter fields.
func Order(sorts []datastore.Sort) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if db == nil || len(sorts) == 0 {
			return db
		}
		stmt, err := parseStatement(db)
		if err != nil {
			db.AddError(err)
			return db
		}
		columns := lo.Map(sorts, func(s datastore.Sort, _ int) clause.OrderByColumn {
			return clause.OrderByColumn{Column: Column(stmt, s.Selector), Desc: s.Desc}
		})
		return db.Order(clause.OrderBy{Columns: columns})
	}
}

func addFilter(db *gorm.DB, compact []any) (*gorm.DB, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	g, err := filter.Parse(compact)
	if err != nil {
		return nil, err
	}
	return addGroup(db, g)
}

func addGroup(db *gorm.DB, g *filter.Group) (*gorm.DB, error) {
	if g.Len() == 0 {
		return db, nil
	}

	stmt, err := parseStatement(db)
	if err != nil {
		return nil, err
	}

	expr, err := Expr(stmt, g)
	if err != nil {
		return nil, err
	}
	if expr != nil {
		db = db.Where(expr)
	}
	return db, nil
}

// parseStatement returns a statement with the schema of the query model
// parsed. Without a struct model, such as a map destination on db.Table, the
// statement carries the table name only.
func parseStatement(db *gorm.DB) (*gorm.Statement, error) {
	stmt := &gorm.Statement{DB: db, Table: db.Statement.Table}
	model := cmp.Or(db.Statement.Model, db.Statement.Dest)
	if model == nil {
		return stmt, nil
	}
	if err := stmt.Parse(model); err != nil {
		if stmt.Table != "" && errors.Is(err, schema.ErrUnsupportedDataType) {
			return stmt, nil
		}
		return nil, errors.Wrap(err, "parse schema with db")
	}
	return stmt, nil
}

// Expr compiles g into a clause expression. Terms are folded left to right
// and a nil group yields a nil expression.
func Expr(stmt *gorm.Statement, g *filter.Group) (clause.Expression, error) {
	return filter.Fold(g, func(expr filter.Expr) (clause.Expression, error) {
		switch e := expr.(type) {
		case *filter.Leaf:
			return buildLeafExpr(stmt, e)
		case *filter.Group:
			return Expr(stmt, e)
		}
		return nil, errors.Errorf("unexpected expression %T", expr)
	}, combineExprs)
}

func combineExprs(logic filter.Logic, exprs []clause.Expression) clause.Expression {
	if logic == filter.Or {
		return clause.Or(exprs...)
	}
	return clause.And(exprs...)
}

// Column resolves a filter field through the parsed schema, by struct field
// name or column name. Unknown fields are used as column names.
func Column(stmt *gorm.Statement, field string) clause.Column {
	if stmt.Schema != nil {
		if f := stmt.Schema.LookUpField(field); f != nil && f.DBName != "" {
			return clause.Column{Table: stmt.Table, Name: f.DBName}
		}
	}
	return clause.Column{Table: stmt.Table, Name: field}
}

func buildLeafExpr(stmt *gorm.Statement, leaf *filter.Leaf) (clause.Expression, error) {
	column := Column(stmt, leaf.Field)
	value := leaf.Value
	if filter.IsNull(value) {
		value = nil
	}

	switch leaf.Operator {
	case filter.OpEq:
		return clause.Eq{Column: column, Value: value}, nil
	case filter.OpNeq:
		return clause.Neq{Column: column, Value: value}, nil
	case filter.OpGt:
		return clause.Gt{Column: column, Value: value}, nil
	case filter.OpGte:
		return clause.Gte{Column: column, Value: value}, nil
	case filter.OpLt:
		return clause.Lt{Column: column, Value: value}, nil
	case filter.OpLte:
		return clause.Lte{Column: column, Value: value}, nil
	case filter.OpIn:
		return clause.IN{Column: column, Values: filter.ToList(value)}, nil
	case filter.OpNotIn:
		return Not(clause.IN{Column: column, Values: filter.ToList(value)}), nil
	case filter.OpContains:
		return clause.Like{Column: column, Value: "%" + likeValue(value) + "%"}, nil
	case filter.OpNotContains:
		return Not(clause.Like{Column: column, Value: "%" + likeValue(value) + "%"}), nil
	case filter.OpStartsWith:
		return clause.Like{Column: column, Value: likeValue(value) + "%"}, nil
	case filter.OpEndsWith:
		return clause.Like{Column: column, Value: "%" + likeValue(value)}, nil
	case filter.OpCustom:
		expr, ok := value.(clause.Expression)
		if !ok {
			return nil, errors.Errorf("custom condition on field %q must be a clause expression, got %T", leaf.Field, value)
		}
		return expr, nil
	}
	return nil, &filter.OperatorError{Operator: string(leaf.Operator)}
}

func likeValue(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// SearchExpr builds the condition used by Search. It returns nil when the
// value is empty or no field can take it.
func SearchExpr(stmt *gorm.Statement, fields []datastore.SearchField, value any) clause.Expression {
	if lo.IsNil(value) {
		return nil
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "" {
		return nil
	}

	var exprs []clause.Expression
	for _, field := range fields {
		column := Column(stmt, field.Name)
		switch field.Type {
		case datastore.SearchNumber:
			if n, ok := searchNumber(value); ok {
				exprs = append(exprs, clause.Eq{Column: column, Value: n})
			}
		case datastore.SearchDatetime:
			if t, ok := searchTime(value); ok {
				exprs = append(exprs, clause.Eq{Column: column, Value: t})
			}
		default:
			exprs = append(exprs, clause.Like{
				Column: clause.Expr{SQL: fmt.Sprintf("LOWER(%s)", stmt.Quote(column))},
				Value:  "%" + strings.ToLower(text) + "%",
			})
		}
	}
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	}
	return clause.Or(exprs...)
}

func searchNumber(value any) (any, bool) {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	}
	return nil, false
}

func searchTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range []string{time.RFC3339, datastore.FormatSQLDateTime, datastore.FormatSQLDate} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
