package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelink/internal/query"
)

func TestCompile_CollectionOnly(t *testing.T) {
	sql, params, err := Compile(query.From("patients"))
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT path, id, data FROM documents WHERE collection = ? ORDER BY path ASC COLLATE BINARY",
		sql)
	assert.Equal(t, []any{"patients"}, params)
}

func TestCompile_Equality(t *testing.T) {
	q := query.From("consultationRequests").Where("status", query.OpEqual, "pending")

	sql, params, err := Compile(q)
	require.NoError(t, err)

	assert.Contains(t, sql, "json_type(data, ?) IN ('text') AND json_extract(data, ?) = ?")
	assert.NotContains(t, sql, "pending")
	assert.Equal(t, []any{"consultationRequests", `$."status"`, `$."status"`, "pending"}, params)
}

func TestCompile_OrderAndLimit(t *testing.T) {
	q := query.From("visits").
		Where("patient", query.OpEqual, "p1").
		OrderBy("startedAt", query.Descending).
		Limit(5)

	sql, params, err := Compile(q)
	require.NoError(t, err)

	assert.Contains(t, sql, "ORDER BY json_extract(data, ?) DESC, path ASC COLLATE BINARY LIMIT ?")
	assert.Contains(t, sql, "json_type(data, ?) IS NOT NULL")
	assert.Equal(t, []any{
		"visits",
		`$."patient"`, `$."patient"`, "p1",
		`$."startedAt"`,
		`$."startedAt"`,
		int64(5),
	}, params)
}

func TestCompile_Operators(t *testing.T) {
	tests := []struct {
		name     string
		op       query.Op
		value    any
		contains string
		params   []any
	}{
		{"not equal", query.OpNotEqual, "done", "IS NOT NULL AND (json_type(data, ?) NOT IN ('text') OR json_extract(data, ?) != ?)",
			[]any{`$."f"`, `$."f"`, `$."f"`, "done"}},
		{"less", query.OpLess, 3, "IN ('integer', 'real') AND json_extract(data, ?) < ?",
			[]any{`$."f"`, `$."f"`, int64(3)}},
		{"greater or equal", query.OpGreaterOrEqual, 2.5, "json_extract(data, ?) >= ?",
			[]any{`$."f"`, `$."f"`, 2.5}},
		{"in", query.OpIn, []string{"a", "b"}, "json_extract(data, ?) IN (?, ?)",
			[]any{`$."f"`, "a", "b"}},
		{"not in", query.OpNotIn, []any{"a"}, "json_extract(data, ?) NOT IN (?)",
			[]any{`$."f"`, `$."f"`, "a"}},
		{"array contains", query.OpArrayContains, "x", "EXISTS (SELECT 1 FROM json_each(data, ?) WHERE value = ?)",
			[]any{`$."f"`, `$."f"`, "x"}},
		{"array contains any", query.OpArrayContainsAny, []any{"x", true}, "WHERE value IN (?, ?))",
			[]any{`$."f"`, `$."f"`, "x", int64(1)}},
		{"equal null", query.OpEqual, nil, "json_type(data, ?) = 'null'",
			[]any{`$."f"`}},
		{"equal bool", query.OpEqual, true, "IN ('true', 'false')",
			[]any{`$."f"`, `$."f"`, int64(1)}},
		{"equal list", query.OpEqual, []any{"a", int64(1)}, "json_extract(data, ?) = json(?)",
			[]any{`$."f"`, `$."f"`, `["a",1]`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := Compile(query.From("c").Where("f", tt.op, tt.value))
			require.NoError(t, err)
			assert.Contains(t, sql, tt.contains)
			assert.Equal(t, append([]any{"c"}, tt.params...), params)
		})
	}
}

func TestCompile_NestedField(t *testing.T) {
	_, params, err := Compile(query.From("patients").Where("address.city", query.OpEqual, "Zürich"))
	require.NoError(t, err)
	assert.Equal(t, `$."address"."city"`, params[1])
}

func TestCompile_RejectsInvalidQuery(t *testing.T) {
	_, _, err := Compile(query.From("patients/p1"))
	require.Error(t, err)

	var verrs query.Errors
	assert.ErrorAs(t, err, &verrs)
}

func TestCompile_Deterministic(t *testing.T) {
	q := query.From("visits").Where("a", query.OpIn, []any{"x", "y"}).OrderBy("b", query.Ascending)

	sql1, params1, err := Compile(q)
	require.NoError(t, err)
	sql2, params2, err := Compile(q)
	require.NoError(t, err)

	assert.Equal(t, sql1, sql2)
	assert.Equal(t, params1, params2)
}
