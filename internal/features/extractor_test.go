package features_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/queryiq/internal/features"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/test"
)

func newExtractor(catalog features.Catalog, store features.FeatureStore) *features.Extractor {
	return features.NewExtractor(nil, catalog, store, features.Options{SlowQueryThresholdMs: 1000})
}

func TestExtractQueryFeaturesSimpleSelect(t *testing.T) {
	f := newExtractor(nil, nil).ExtractQueryFeatures("SELECT * FROM users WHERE id=1")

	assert.True(t, f.SyntaxTree)
	assert.True(t, f.HasSelectStar)
	assert.True(t, f.HasWhereClause)
	assert.Equal(t, 0, f.NumJoins)
	assert.Equal(t, 0, f.NumSubqueries)
	assert.Equal(t, []string{"users"}, f.Tables)
	assert.Equal(t, 1, f.NumTables)
	assert.False(t, f.HasAggregate)
	assert.InDelta(t, 0.030, f.ComplexityScore, 1e-9)
}

func TestExtractQueryFeaturesSyntaxTree(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		check func(t *testing.T, f model.QueryFeatures)
	}{
		{
			name: "joins",
			sql:  "SELECT u.id, o.total FROM users u JOIN orders o ON o.user_id = u.id LEFT JOIN payments p ON p.order_id = o.id",
			check: func(t *testing.T, f model.QueryFeatures) {
				assert.Equal(t, 2, f.NumJoins)
				assert.Equal(t, []string{"orders", "payments", "users"}, f.Tables)
				assert.False(t, f.HasSelectStar)
				assert.False(t, f.HasWhereClause)
			},
		},
		{
			name: "in subquery",
			sql:  "SELECT name FROM users WHERE id IN (SELECT user_id FROM orders WHERE total > 100)",
			check: func(t *testing.T, f model.QueryFeatures) {
				assert.Equal(t, 1, f.NumSubqueries)
				assert.True(t, f.HasExistsOrIn)
				assert.True(t, f.HasWhereClause)
				assert.Equal(t, 2, f.NumTables)
			},
		},
		{
			name: "exists subquery",
			sql:  "SELECT id FROM users u WHERE EXISTS (SELECT 1 FROM orders o WHERE o.user_id = u.id)",
			check: func(t *testing.T, f model.QueryFeatures) {
				assert.Equal(t, 1, f.NumSubqueries)
				assert.True(t, f.HasExistsOrIn)
			},
		},
		{
			name: "aggregate clauses",
			sql:  "SELECT DISTINCT status, COUNT(*) FROM orders GROUP BY status HAVING COUNT(*) > 10 ORDER BY status LIMIT 5",
			check: func(t *testing.T, f model.QueryFeatures) {
				assert.True(t, f.HasAggregate)
				assert.True(t, f.HasGroupBy)
				assert.True(t, f.HasHaving)
				assert.True(t, f.HasOrderBy)
				assert.True(t, f.HasLimit)
				assert.True(t, f.HasDistinct)
				assert.False(t, f.HasWhereClause)
			},
		},
		{
			name: "union",
			sql:  "SELECT * FROM archived_users UNION SELECT id, name FROM users",
			check: func(t *testing.T, f model.QueryFeatures) {
				assert.True(t, f.HasUnion)
				assert.True(t, f.HasSelectStar)
				assert.Equal(t, 0, f.NumSubqueries)
				assert.Equal(t, []string{"archived_users", "users"}, f.Tables)
			},
		},
		{
			name: "schema qualified",
			sql:  `SELECT o.id FROM sales.orders o JOIN "Customers" c ON c.id = o.customer_id`,
			check: func(t *testing.T, f model.QueryFeatures) {
				assert.Equal(t, []string{"customers", "sales.orders"}, f.Tables)
				assert.Equal(t, 1, f.NumJoins)
			},
		},
		{
			name: "star inside subquery only",
			sql:  "SELECT t.id FROM (SELECT * FROM users) t",
			check: func(t *testing.T, f model.QueryFeatures) {
				assert.False(t, f.HasSelectStar)
				assert.Equal(t, 1, f.NumSubqueries)
			},
		},
		{
			name: "delete with where",
			sql:  "DELETE FROM sessions WHERE expires_at < NOW()",
			check: func(t *testing.T, f model.QueryFeatures) {
				assert.True(t, f.HasWhereClause)
				assert.Equal(t, []string{"sessions"}, f.Tables)
			},
		},
	}

	ex := newExtractor(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ex.ExtractQueryFeatures(tt.sql)
			require.True(t, f.SyntaxTree, "expected %q to parse", tt.sql)
			assert.Equal(t, len(tt.sql), f.QueryLength)
			tt.check(t, f)
		})
	}
}

func TestExtractQueryFeaturesFallback(t *testing.T) {
	ex := newExtractor(nil, nil)

	f := ex.ExtractQueryFeatures("SELECT * FROM users WHERE id = $1::int")
	assert.False(t, f.SyntaxTree)
	assert.True(t, f.HasSelectStar)
	assert.True(t, f.HasWhereClause)
	assert.Equal(t, 0, f.NumJoins)
	assert.Equal(t, []string{"users"}, f.Tables)

	f = ex.ExtractQueryFeatures(`SELECT u.id, count(o.id) FROM public.users u JOIN "Orders" o ON o.user_id = u.id WHERE u.id IN (SELECT user_id FROM vip) AND o.total > $1::numeric GROUP BY u.id ORDER BY 2 DESC LIMIT $2`)
	assert.False(t, f.SyntaxTree)
	assert.False(t, f.HasSelectStar)
	assert.Equal(t, 1, f.NumJoins)
	assert.Equal(t, 1, f.NumSubqueries)
	assert.Equal(t, []string{"orders", "public.users", "vip"}, f.Tables)
	assert.True(t, f.HasAggregate)
	assert.True(t, f.HasExistsOrIn)
	assert.True(t, f.HasGroupBy)
	assert.True(t, f.HasOrderBy)
	assert.True(t, f.HasLimit)
	assert.False(t, f.HasUnion)
}

func TestCommaJoinCountsOnlyOnSyntaxTree(t *testing.T) {
	ex := newExtractor(nil, nil)

	parsed := ex.ExtractQueryFeatures("SELECT * FROM a, b")
	assert.True(t, parsed.SyntaxTree)
	assert.Equal(t, 1, parsed.NumJoins)

	fallback := ex.ExtractQueryFeatures("SELECT * FROM a, b WHERE a.id = $1::int")
	assert.False(t, fallback.SyntaxTree)
	assert.Equal(t, 0, fallback.NumJoins)
}

func TestExtractQueryFeaturesNeverFails(t *testing.T) {
	ex := newExtractor(nil, nil)
	for _, sql := range []string{"", "   ", "not sql at all", "SELECT (((", "SELECT 1; SELECT 2"} {
		f := ex.ExtractQueryFeatures(sql)
		assert.GreaterOrEqual(t, f.ComplexityScore, 0.0, sql)
		assert.LessOrEqual(t, f.ComplexityScore, 1.0, sql)
	}
}

func TestComplexityScoreBoundedAndMonotonic(t *testing.T) {
	base := model.QueryFeatures{QueryLength: 120, HasAggregate: true}

	prev := -1.0
	for joins := 0; joins <= 10; joins++ {
		f := base
		f.NumJoins = joins
		score := features.ComplexityScore(f)
		assert.GreaterOrEqual(t, score, prev, "joins=%d", joins)
		assert.LessOrEqual(t, score, 1.0)
		prev = score
	}

	prev = -1.0
	for subqueries := 0; subqueries <= 10; subqueries++ {
		f := base
		f.NumSubqueries = subqueries
		score := features.ComplexityScore(f)
		assert.GreaterOrEqual(t, score, prev, "subqueries=%d", subqueries)
		assert.LessOrEqual(t, score, 1.0)
		prev = score
	}

	// caps: joins at 0.4, subqueries at 0.5
	assert.InDelta(t, 0.4, features.ComplexityScore(model.QueryFeatures{NumJoins: 50}), 1e-9)
	assert.InDelta(t, 0.5, features.ComplexityScore(model.QueryFeatures{NumSubqueries: 50}), 1e-9)
	assert.InDelta(t, 0.28, features.ComplexityScore(model.QueryFeatures{HasAggregate: true, HasUnion: true, HasExistsOrIn: true}), 1e-9)
	assert.Equal(t, 1.0, features.ComplexityScore(model.QueryFeatures{QueryLength: 5000, NumJoins: 9, NumSubqueries: 9}))
}

func TestExtractPlanFeatures(t *testing.T) {
	f := features.ExtractPlanFeatures(test.LoadSampleAnalysis(t, "orders_join.json"))
	assert.Equal(t, 1520.75, f.TotalCost)
	assert.Equal(t, 48.2, f.ActualTime)
	assert.Equal(t, 2, f.PlanDepth)
	assert.Equal(t, 1, f.NumSequentialScans)
	assert.Equal(t, 1, f.NumIndexScans)
	assert.Equal(t, []string{"orders", "users"}, f.TablesScanned)

	f = features.ExtractPlanFeatures(test.LoadSampleAnalysis(t, "deep_nested.json"))
	assert.Equal(t, 6, f.PlanDepth)
	assert.Equal(t, 1, f.NumSequentialScans)
	assert.Equal(t, 1, f.NumIndexScans)

	assert.Equal(t, model.PlanFeatures{}, features.ExtractPlanFeatures(nil))
}

func TestExtractMergesPlan(t *testing.T) {
	ex := newExtractor(nil, nil)

	set := ex.Extract("SELECT 1", nil)
	assert.Nil(t, set.Plan)

	set = ex.Extract("SELECT * FROM orders", test.LoadSampleAnalysis(t, "seq_scan.json"))
	require.NotNil(t, set.Plan)
	assert.True(t, set.Plan.HasSequentialScan)
	assert.Equal(t, 1.0, set.Vector()["has_sequential_scan"])
	assert.Equal(t, 1.0, set.Vector()["has_select_star"])
}

type fakeCatalog struct {
	indexed map[string]bool
	sizes   map[string]int64
	calls   []string
}

func (c *fakeCatalog) HasIndex(_ context.Context, table string) (bool, error) {
	c.calls = append(c.calls, table)
	ok, found := c.indexed[table]
	if !found {
		return false, errors.New("relation does not exist")
	}
	return ok, nil
}

func (c *fakeCatalog) TableSizeBytes(_ context.Context, table string) (int64, error) {
	size, found := c.sizes[table]
	if !found {
		return 0, errors.New("relation does not exist")
	}
	return size, nil
}

type fakeFeatureStore struct {
	saved []*model.QueryFeature
	err   error
}

func (s *fakeFeatureStore) SaveQueryFeature(_ context.Context, f *model.QueryFeature) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, f)
	return nil
}

func TestCreateQueryFeatures(t *testing.T) {
	catalog := &fakeCatalog{
		indexed: map[string]bool{"public.users": true},
		sizes:   map[string]int64{"public.orders": 2 << 20},
	}
	store := &fakeFeatureStore{}
	ex := newExtractor(catalog, store)

	log := model.NewQueryLog("SELECT o.id FROM orders o JOIN users u ON u.id = o.user_id")
	log.MeanExecTime = 1500

	feature, err := ex.CreateQueryFeatures(context.Background(), &log, test.LoadSampleAnalysis(t, "orders_join.json"))
	require.NoError(t, err)

	assert.Equal(t, log.ID, feature.QueryID)
	assert.NotEmpty(t, feature.ID)
	assert.True(t, feature.IsSlowQuery)
	assert.Equal(t, 1, feature.Query.NumJoins)
	require.NotNil(t, feature.Plan)
	assert.True(t, feature.Plan.HasSequentialScan)
	// orders lookup fails open, users is indexed
	assert.InDelta(t, 50.0, feature.IndexedTablesPct, 1e-9)
	assert.True(t, feature.CatalogChecked)
	// users size lookup fails open, orders is 2MB
	assert.InDelta(t, 1.0, feature.AvgTableSizeMB, 1e-9)
	assert.Equal(t, []string{"public.orders", "public.users"}, catalog.calls)

	require.Len(t, store.saved, 1)
	assert.Same(t, feature, store.saved[0])
}

func TestCreateQueryFeaturesWithoutPlan(t *testing.T) {
	catalog := &fakeCatalog{}
	ex := newExtractor(catalog, nil)

	log := model.NewQueryLog("SELECT 1")
	log.MeanExecTime = 10

	feature, err := ex.CreateQueryFeatures(context.Background(), &log, nil)
	require.NoError(t, err)
	assert.False(t, feature.IsSlowQuery)
	assert.Nil(t, feature.Plan)
	assert.Zero(t, feature.IndexedTablesPct)
	assert.False(t, feature.CatalogChecked)
	assert.Empty(t, catalog.calls)
}

func TestCreateQueryFeaturesWithoutCatalog(t *testing.T) {
	ex := newExtractor(nil, nil)

	log := model.NewQueryLog("SELECT o.id FROM orders o JOIN users u ON u.id = o.user_id")
	feature, err := ex.CreateQueryFeatures(context.Background(), &log, test.LoadSampleAnalysis(t, "orders_join_indexed.json"))
	require.NoError(t, err)
	require.NotNil(t, feature.Plan)
	assert.NotEmpty(t, feature.Plan.IndexesUsed)
	assert.False(t, feature.CatalogChecked)
	assert.Zero(t, feature.IndexedTablesPct)
	assert.Zero(t, feature.AvgTableSizeMB)
}

func TestCreateQueryFeaturesStoreFailure(t *testing.T) {
	ex := newExtractor(nil, &fakeFeatureStore{err: errors.New("disk full")})

	log := model.NewQueryLog("SELECT 1")
	feature, err := ex.CreateQueryFeatures(context.Background(), &log, nil)
	require.NoError(t, err)
	assert.NotNil(t, feature)

	_, err = ex.CreateQueryFeatures(context.Background(), nil, nil)
	require.Error(t, err)
}
