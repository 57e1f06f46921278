package gormstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"github.com/theplant/testenv"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter"
	"github.com/theplant/datastore/gormstore"
)

var db *gorm.DB

func TestMain(m *testing.M) {
	env, err := testenv.New().DBEnable(true).SetUp()
	if err != nil {
		panic(err)
	}
	defer env.TearDown()

	db = env.DB
	db.Logger = db.Logger.LogMode(logger.Info)

	m.Run()
}

type Contact struct {
	ID        int        `gorm:"primarykey;not null;"`
	Name      string     `gorm:"not null;"`
	Age       int        `gorm:"index;not null;"`
	CompanyID string     `gorm:"index;"`
	DeletedAt *time.Time `gorm:"index;"`
}

func resetDB(t *testing.T) {
	require.NoError(t, db.Exec("DROP TABLE IF EXISTS contacts").Error)
	require.NoError(t, db.AutoMigrate(&Contact{}))

	vs := []*Contact{}
	for i := 0; i < 10; i++ {
		vs = append(vs, &Contact{
			Name:      fmt.Sprintf("name%d", i),
			Age:       20 + i,
			CompanyID: lo.Ternary(i%2 == 0, "c1", "c2"),
		})
	}
	err := db.Session(&gorm.Session{Logger: logger.Discard}).Create(vs).Error
	require.NoError(t, err)
}

func newStore(t *testing.T, opts ...gormstore.Option) *gormstore.Store {
	t.Helper()
	store, err := gormstore.New(db, "contacts", opts...)
	require.NoError(t, err)
	return store
}

func names(records []datastore.Record) []any {
	return lo.Map(records, func(r datastore.Record, _ int) any { return r["name"] })
}

func TestNew(t *testing.T) {
	_, err := gormstore.New(nil, "contacts")
	require.ErrorContains(t, err, "db is required")

	_, err = gormstore.New(db, "")
	require.ErrorContains(t, err, "table is required")

	_, err = gormstore.New(db, "contacts", gormstore.WithKey(""))
	require.ErrorContains(t, err, "invalid sql store options")

	store := newStore(t)
	require.Equal(t, "id", store.Key())
}

func TestFindAll(t *testing.T) {
	resetDB(t)
	ctx := context.Background()

	store := newStore(t, gormstore.WithSearch(&datastore.SearchConfig{
		Fields: datastore.TextFields("name"),
		Sort:   []datastore.Sort{{Selector: "age", Desc: true}},
	}))

	testCases := []struct {
		name      string
		opts      *datastore.FindOptions
		wantNames []any
		wantTotal int
		wantErr   error
	}{
		{
			name:      "nil options use the default sort",
			opts:      nil,
			wantNames: []any{"name9", "name8", "name7", "name6", "name5", "name4", "name3", "name2", "name1", "name0"},
			wantTotal: 10,
		},
		{
			name: "filter sort skip limit",
			opts: &datastore.FindOptions{
				Filter: []any{[]any{"age", ">=", 25}, "and", []any{"age", "<", 30}},
				Sort:   []datastore.Sort{{Selector: "age", Desc: true}},
				Skip:   lo.ToPtr(1),
				Limit:  lo.ToPtr(2),
			},
			wantNames: []any{"name8", "name7"},
			wantTotal: 5,
		},
		{
			name: "flat tags fold left",
			opts: &datastore.FindOptions{
				Filter: []any{[]any{"age", "=", 20}, "or", []any{"age", "=", 21}, "and", []any{"company_id", "=", "c2"}},
				Sort:   []datastore.Sort{{Selector: "age"}},
			},
			wantNames: []any{"name1"},
			wantTotal: 1,
		},
		{
			name: "search is case insensitive",
			opts: &datastore.FindOptions{
				Search: "NAME3",
			},
			wantNames: []any{"name3"},
			wantTotal: 1,
		},
		{
			name: "group selectors sort first",
			opts: &datastore.FindOptions{
				Filter: []any{"age", "in", []any{20, 21, 22}},
				Group:  []datastore.Group{{Selector: "company_id"}},
				Sort:   []datastore.Sort{{Selector: "age", Desc: true}},
			},
			wantNames: []any{"name2", "name0", "name1"},
			wantTotal: 3,
		},
		{
			name: "invalid operator",
			opts: &datastore.FindOptions{
				Filter: []any{"age", "between", 1},
			},
			wantErr: filter.ErrInvalidOperator,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := store.FindAll(ctx, tc.opts)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantNames, names(result.Data))
			require.NotNil(t, result.TotalCount)
			require.Equal(t, tc.wantTotal, *result.TotalCount)
		})
	}

	t.Run("skip total count", func(t *testing.T) {
		result, err := store.FindAll(datastore.WithSkip(ctx, datastore.Skip{TotalCount: true}), &datastore.FindOptions{Limit: lo.ToPtr(1)})
		require.NoError(t, err)
		require.Len(t, result.Data, 1)
		require.Nil(t, result.TotalCount)
	})
}

func TestFindOneExistsCount(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := newStore(t)

	record, err := store.FindOne(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "name0", record["name"])

	record, err = store.FindOne(ctx, 404)
	require.NoError(t, err)
	require.Nil(t, record)

	count, err := store.Count(ctx, []any{"company_id", "=", "c1"})
	require.NoError(t, err)
	require.Equal(t, 5, count)

	exists, err := store.Exists(ctx, []any{"name", "=", "nobody"})
	require.NoError(t, err)
	require.False(t, exists)

	processed := datastore.WithRecordProcessor(ctx, func(_ context.Context, record datastore.Record) (datastore.Record, error) {
		record["processed"] = true
		return record, nil
	})
	record, err = store.FindOne(processed, 2)
	require.NoError(t, err)
	require.Equal(t, true, record["processed"])
}

func TestLink(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := newStore(t)

	store.Link(datastore.LinkParams{"company_id": "c1"})
	count, err := store.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 5, count)

	record, err := store.FindOne(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, record)

	inserted, err := store.Insert(ctx, datastore.Record{"name": "linked", "age": 40})
	require.NoError(t, err)
	require.Equal(t, "c1", inserted["company_id"])
	require.NotNil(t, inserted["id"])

	inserted, err = store.Insert(ctx, datastore.Record{"name": "explicit", "age": 41, "company_id": "c2"})
	require.NoError(t, err)
	require.Equal(t, "c2", inserted["company_id"])

	store.Link(datastore.LinkParams{"company_id": nil})
	result, err := store.FindAll(ctx, &datastore.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, datastore.EmptyResult(), result)

	count, err = store.Count(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = store.Insert(ctx, datastore.Record{"name": "orphan"})
	require.ErrorIs(t, err, datastore.ErrInvalidLink)

	_, err = store.Update(ctx, datastore.Record{"id": 1, "name": "orphan"})
	require.ErrorIs(t, err, datastore.ErrInvalidLink)
	require.ErrorIs(t, store.Remove(ctx, 1), datastore.ErrInvalidLink)
	require.ErrorIs(t, store.ForceRemove(ctx, 1), datastore.ErrInvalidLink)

	soft := newStore(t, gormstore.WithSoftDelete("deleted_at"))
	soft.Link(datastore.LinkParams{"company_id": nil})
	require.ErrorIs(t, soft.Remove(ctx, 1), datastore.ErrInvalidLink)
	require.ErrorIs(t, soft.Restore(ctx, 1), datastore.ErrInvalidLink)

	store.Link(nil)
	record, err = store.FindOne(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "name0", record["name"])
}

func TestUpdate(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := newStore(t)

	record, err := store.Update(ctx, datastore.Record{"id": 1, "name": "renamed"})
	require.NoError(t, err)
	require.Equal(t, "renamed", record["name"])
	require.EqualValues(t, 20, record["age"])

	record, err = store.Update(ctx, datastore.Record{"id": 1})
	require.NoError(t, err)
	require.Equal(t, "renamed", record["name"])

	_, err = store.Update(ctx, datastore.Record{"id": 404, "name": "ghost"})
	require.ErrorIs(t, err, datastore.ErrRecordNotFound)

	_, err = store.Update(ctx, datastore.Record{"id": 404})
	require.ErrorIs(t, err, datastore.ErrRecordNotFound)

	_, err = store.Update(ctx, datastore.Record{"name": "keyless"})
	require.ErrorContains(t, err, "update contacts without id")
}

func TestRemove(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Remove(ctx, 1))
	require.ErrorIs(t, store.Remove(ctx, 1), datastore.ErrRecordNotFound)

	count, err := store.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 9, count)

	err = store.Restore(ctx, 2)
	require.ErrorIs(t, err, datastore.ErrNotSupported)
}

func TestSoftDelete(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := newStore(t, gormstore.WithSoftDelete("deleted_at"))

	require.NoError(t, store.Remove(ctx, 1))
	require.ErrorIs(t, store.Remove(ctx, 1), datastore.ErrRecordNotFound)

	record, err := store.FindOne(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, record)

	testCases := []struct {
		name    string
		compact []any
		want    int
	}{
		{name: "live rows by default", compact: nil, want: 9},
		{name: "with trashed", compact: []any{filter.WithTrashed, "=", true}, want: 10},
		{name: "only trashed", compact: []any{filter.OnlyTrashed, "=", true}, want: 1},
		{
			name:    "trashed pseudo field next to a condition",
			compact: []any{[]any{filter.OnlyTrashed, "=", true}, "and", []any{"age", ">", 20}},
			want:    0,
		},
		{name: "with trashed false", compact: []any{filter.WithTrashed, "=", false}, want: 9},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			count, err := store.Count(ctx, tc.compact)
			require.NoError(t, err)
			require.Equal(t, tc.want, count)
		})
	}

	_, err = store.Update(ctx, datastore.Record{"id": 1, "name": "zombie"})
	require.ErrorIs(t, err, datastore.ErrRecordNotFound)

	require.NoError(t, store.Restore(ctx, 1))
	require.ErrorIs(t, store.Restore(ctx, 1), datastore.ErrRecordNotFound)
	record, err = store.FindOne(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "name0", record["name"])

	require.NoError(t, store.Remove(ctx, 2))
	require.NoError(t, store.ForceRemove(ctx, 2))
	require.ErrorIs(t, store.ForceRemove(ctx, 2), datastore.ErrRecordNotFound)

	count, err := store.Count(ctx, []any{filter.WithTrashed, "=", true})
	require.NoError(t, err)
	require.Equal(t, 9, count)
}

func TestWithModel(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := newStore(t, gormstore.WithModel(&Contact{}))

	result, err := store.FindAll(ctx, &datastore.FindOptions{
		Filter: []any{"CompanyID", "=", "c2"},
		Sort:   []datastore.Sort{{Selector: "Age", Desc: true}},
		Limit:  lo.ToPtr(2),
	})
	require.NoError(t, err)
	require.Equal(t, []any{"name9", "name7"}, names(result.Data))
	require.Equal(t, 5, *result.TotalCount)
}
