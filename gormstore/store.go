// Package gormstore implements datastore.Store over one SQL table through
// gorm. Rows are exchanged as records keyed by column name.
package gormstore

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter"
	"github.com/theplant/datastore/filter/gormfilter"
)

// Store is a datastore.Store over table. Link must not be called while
// other goroutines use the same store.
type Store struct {
	db    *gorm.DB
	table string
	opts  *options
	link  datastore.LinkParams
}

var _ datastore.Store = (*Store)(nil)

func New(db *gorm.DB, table string, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if table == "" {
		return nil, errors.New("table is required")
	}
	o := &options{
		Key:    "id",
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := validator.New().Struct(o); err != nil {
		return nil, errors.Wrap(err, "invalid sql store options")
	}
	return &Store{db: db, table: table, opts: o}, nil
}

func (s *Store) Key() string {
	return s.opts.Key
}

func (s *Store) Link(params datastore.LinkParams) {
	s.link = params
}

func (s *Store) session(ctx context.Context) *gorm.DB {
	db := s.db.WithContext(ctx).Table(s.table)
	if s.opts.Model != nil {
		db = db.Model(s.opts.Model)
	}
	return db
}

// query selects the rows matching compact and the link, hiding soft-deleted
// rows as the trashed pseudo fields of compact ask. The returned session can
// be reused for several statements. An invalid link yields ErrInvalidLink,
// since nil link values would otherwise drop the parent restriction.
func (s *Store) query(ctx context.Context, compact []any) (*gorm.DB, error) {
	if !s.link.Valid() {
		return nil, datastore.ErrInvalidLink
	}
	g, err := filter.Parse(compact)
	if err != nil {
		return nil, err
	}
	g, trashed := g.Partition(filter.WithTrashed, filter.OnlyTrashed)

	db := s.session(ctx).Scopes(
		gormfilter.Where(g),
		gormfilter.Scope(filter.Equals(s.link)),
	)
	if s.opts.SoftDelete != "" {
		switch {
		case trashed[filter.OnlyTrashed].IsTrue():
			db = db.Where(clause.Neq{Column: s.column(s.opts.SoftDelete), Value: nil})
		case !trashed[filter.WithTrashed].IsTrue():
			db = db.Where(clause.Eq{Column: s.column(s.opts.SoftDelete), Value: nil})
		}
	}
	if err := db.Error; err != nil {
		return nil, err
	}
	return db.Session(&gorm.Session{}), nil
}

func (s *Store) column(name string) clause.Column {
	return clause.Column{Table: clause.CurrentTable, Name: name}
}

func (s *Store) byKey(key any) clause.Expression {
	return clause.Eq{Column: s.column(s.opts.Key), Value: key}
}

// FindOne returns nil without error when no live row has key.
func (s *Store) FindOne(ctx context.Context, key any) (datastore.Record, error) {
	if !s.link.Valid() {
		return nil, nil
	}
	db, err := s.query(ctx, nil)
	if err != nil {
		return nil, err
	}
	record, err := s.first(db.Where(s.byKey(key)))
	if err != nil || record == nil {
		return nil, err
	}
	records := []datastore.Record{record}
	if err := datastore.ProcessRecords(ctx, records); err != nil {
		return nil, err
	}
	return records[0], nil
}

func (s *Store) FindAll(ctx context.Context, opts *datastore.FindOptions) (*datastore.FindResult, error) {
	if !s.link.Valid() {
		return datastore.EmptyResult(), nil
	}
	if opts == nil {
		opts = &datastore.FindOptions{}
	}
	db, err := s.query(ctx, opts.Filter)
	if err != nil {
		return nil, err
	}
	if s.opts.Search != nil {
		db = db.Scopes(gormfilter.Search(s.opts.Search.Fields, opts.Search)).Session(&gorm.Session{})
	}

	result := &datastore.FindResult{Data: []datastore.Record{}}
	if !datastore.GetSkip(ctx).TotalCount {
		var total int64
		if err := db.Count(&total).Error; err != nil {
			return nil, errors.Wrap(err, "count")
		}
		result.TotalCount = lo.ToPtr(int(total))
	}

	rows := db.Scopes(gormfilter.Order(datastore.OrderedSort(opts, s.opts.Search)))
	if opts.Skip != nil && *opts.Skip > 0 {
		rows = rows.Offset(*opts.Skip)
	}
	if opts.Limit != nil {
		rows = rows.Limit(*opts.Limit)
	}
	var records []map[string]any
	if err := rows.Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "find")
	}
	result.Data = append(result.Data, records...)
	if err := datastore.ProcessRecords(ctx, result.Data); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Exists(ctx context.Context, compact []any) (bool, error) {
	count, err := s.Count(ctx, compact)
	return count > 0, err
}

func (s *Store) Count(ctx context.Context, compact []any) (int, error) {
	if !s.link.Valid() {
		return 0, nil
	}
	db, err := s.query(ctx, compact)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return int(count), nil
}

// Insert creates a row from data under the linked parent. Link values never
// override data.
func (s *Store) Insert(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	if !s.link.Valid() {
		return nil, datastore.ErrInvalidLink
	}
	row := lo.Assign(datastore.Record(s.link), data)
	if err := s.session(ctx).Clauses(clause.Returning{}).Create(&row).Error; err != nil {
		return nil, errors.Wrapf(err, "insert into %s", s.table)
	}
	key, ok := row[s.opts.Key]
	if !ok || lo.IsNil(key) {
		return row, nil
	}
	record, err := s.first(s.session(ctx).Where(s.byKey(key)))
	if err != nil {
		return nil, err
	}
	return lo.Ternary(record == nil, row, record), nil
}

// Update writes the columns of data to the live row keyed by data.
func (s *Store) Update(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	key, ok := data[s.opts.Key]
	if !ok || lo.IsNil(key) {
		return nil, errors.Errorf("update %s without %s", s.table, s.opts.Key)
	}
	db, err := s.query(ctx, nil)
	if err != nil {
		return nil, err
	}
	db = db.Where(s.byKey(key)).Session(&gorm.Session{})

	if columns := lo.OmitByKeys(data, []string{s.opts.Key}); len(columns) > 0 {
		result := db.Updates(columns)
		if result.Error != nil {
			return nil, errors.Wrapf(result.Error, "update %s %v", s.table, key)
		}
		if result.RowsAffected == 0 {
			return nil, s.notFound(key)
		}
	}

	record, err := s.first(db)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, s.notFound(key)
	}
	return record, nil
}

// Remove soft deletes the row keyed by key when soft delete is configured
// and deletes it otherwise.
func (s *Store) Remove(ctx context.Context, key any) error {
	if s.opts.SoftDelete == "" {
		return s.ForceRemove(ctx, key)
	}
	db, err := s.query(ctx, nil)
	if err != nil {
		return err
	}
	result := db.Where(s.byKey(key)).Update(s.opts.SoftDelete, time.Now())
	if result.Error != nil {
		return errors.Wrapf(result.Error, "remove %s %v", s.table, key)
	}
	if result.RowsAffected == 0 {
		return s.notFound(key)
	}
	return nil
}

// ForceRemove deletes the row keyed by key, soft deleted or not.
func (s *Store) ForceRemove(ctx context.Context, key any) error {
	db, err := s.query(ctx, []any{filter.WithTrashed, "=", true})
	if err != nil {
		return err
	}
	result := db.Unscoped().Where(s.byKey(key)).Delete(map[string]any{})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "delete %s %v", s.table, key)
	}
	if result.RowsAffected == 0 {
		return s.notFound(key)
	}
	return nil
}

// Restore clears the soft delete column of the row keyed by key.
func (s *Store) Restore(ctx context.Context, key any) error {
	if s.opts.SoftDelete == "" {
		return errors.Wrap(datastore.ErrNotSupported, "restore without soft delete")
	}
	db, err := s.query(ctx, []any{filter.OnlyTrashed, "=", true})
	if err != nil {
		return err
	}
	result := db.Where(s.byKey(key)).Update(s.opts.SoftDelete, gorm.Expr("NULL"))
	if result.Error != nil {
		return errors.Wrapf(result.Error, "restore %s %v", s.table, key)
	}
	if result.RowsAffected == 0 {
		return s.notFound(key)
	}
	return nil
}

func (s *Store) first(db *gorm.DB) (datastore.Record, error) {
	var records []map[string]any
	if err := db.Limit(1).Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "find")
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (s *Store) notFound(key any) error {
	s.opts.Logger.Debug("row not found",
		zap.String("table", s.table),
		zap.Any("key", key),
	)
	return errors.Wrapf(datastore.ErrRecordNotFound, "%s %v", s.table, key)
}
