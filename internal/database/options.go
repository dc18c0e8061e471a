package database

import (
	"fmt"

	"github.com/tribridrag/tribridrag/domain/queryopt"
	"gorm.io/gorm"
)

// ApplyOptions builds a queryopt.Query from the given options and applies it to a GORM session.
func ApplyOptions(db *gorm.DB, options ...queryopt.Option) *gorm.DB {
	q := queryopt.Build(options...)

	for _, cond := range q.Conditions() {
		switch {
		case cond.IsRaw():
			expr, args := cond.Raw()
			db = db.Where(expr, args...)
		case cond.In():
			db = db.Where(fmt.Sprintf("%s IN ?", cond.Field()), cond.Value())
		default:
			db = db.Where(fmt.Sprintf("%s = ?", cond.Field()), cond.Value())
		}
	}

	for _, ord := range q.Orders() {
		dir := "ASC"
		if !ord.Ascending() {
			dir = "DESC"
		}
		db = db.Order(fmt.Sprintf("%s %s", ord.Field(), dir))
	}

	if q.LimitValue() > 0 {
		db = db.Limit(q.LimitValue())
	}

	if q.OffsetValue() > 0 {
		db = db.Offset(q.OffsetValue())
	}

	return db
}

// ApplyConditions applies only WHERE conditions (no limit/offset/order) for COUNT queries.
func ApplyConditions(db *gorm.DB, options ...queryopt.Option) *gorm.DB {
	q := queryopt.Build(options...)

	for _, cond := range q.Conditions() {
		switch {
		case cond.IsRaw():
			expr, args := cond.Raw()
			db = db.Where(expr, args...)
		case cond.In():
			db = db.Where(fmt.Sprintf("%s IN ?", cond.Field()), cond.Value())
		default:
			db = db.Where(fmt.Sprintf("%s = ?", cond.Field()), cond.Value())
		}
	}

	return db
}
