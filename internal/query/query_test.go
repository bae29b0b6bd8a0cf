package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_AccumulatesConjuncts(t *testing.T) {
	q := From("consultationRequests").
		Where("status", OpEqual, "pending").
		Where("doctorId", OpEqual, "d1").
		OrderBy("createdAt", Descending).
		Limit(5)

	conj := q.Conjuncts()
	require.Len(t, conj, 2)
	assert.Equal(t, "status", conj[0].Field)
	assert.Equal(t, "doctorId", conj[1].Field)
	assert.Equal(t, []Order{{Field: "createdAt", Direction: Descending}}, q.Orders)
	assert.Equal(t, 5, q.Max)
}

func TestBuilder_DoesNotAliasParent(t *testing.T) {
	base := From("patients").Where("active", OpEqual, true)
	a := base.Where("city", OpEqual, "Lyon")
	b := base.Where("city", OpEqual, "Oslo")

	assert.Len(t, base.Conjuncts(), 1)
	assert.Equal(t, "Lyon", a.Conjuncts()[1].Value)
	assert.Equal(t, "Oslo", b.Conjuncts()[1].Value)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"valid", From("consultationRequests").Where("status", OpEqual, "pending"), false},
		{"nested collection", From("doctors/d1/slots").Where("free", OpEqual, true), false},
		{"in list", From("a").Where("status", OpIn, []string{"pending", "accepted"}), false},
		{"empty collection", Query{}, true},
		{"document path", From("a/b"), true},
		{"unknown op", From("a").Where("x", Op("~"), 1), true},
		{"in without list", From("a").Where("x", OpIn, "pending"), true},
		{"in with empty list", From("a").Where("x", OpIn, []any{}), true},
		{"unsupported value", From("a").Where("x", OpEqual, struct{}{}), true},
		{"missing field", From("a").Where("", OpEqual, 1), true},
		{"negative limit", From("a").Limit(-1), true},
		{"order without field", From("a").OrderBy("", Ascending), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.q)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var errs Errors
			assert.True(t, errors.As(err, &errs))
			assert.NotEmpty(t, errs)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	q := Query{Collection: "a/b", Max: -2}.Where("", Op("?"), 1)

	err := Validate(q)
	require.Error(t, err)

	var errs Errors
	require.True(t, errors.As(err, &errs))
	assert.GreaterOrEqual(t, len(errs), 3)
}

func TestKey_StableAcrossEquivalentForms(t *testing.T) {
	a := From("consultationRequests").Where("status", OpEqual, "pending").Where("n", OpEqual, 3)
	b := Query{
		Collection: "/consultationRequests/",
		Filter: And{Predicates: []Predicate{
			Where{Field: "status", Op: OpEqual, Value: "pending"},
			And{Predicates: []Predicate{Where{Field: "n", Op: OpEqual, Value: float64(3)}}},
		}},
	}

	assert.Equal(t, MustKey(a), MustKey(b))
}

func TestKey_DistinguishesQueries(t *testing.T) {
	base := From("consultationRequests").Where("status", OpEqual, "pending")

	keys := map[string]string{
		"base":     MustKey(base),
		"value":    MustKey(From("consultationRequests").Where("status", OpEqual, "accepted")),
		"op":       MustKey(From("consultationRequests").Where("status", OpNotEqual, "pending")),
		"ordered":  MustKey(base.OrderBy("createdAt", Ascending)),
		"desc":     MustKey(base.OrderBy("createdAt", Descending)),
		"limited":  MustKey(base.Limit(1)),
		"otherCol": MustKey(From("patients").Where("status", OpEqual, "pending")),
	}

	seen := map[string]string{}
	for name, k := range keys {
		if other, dup := seen[k]; dup {
			t.Fatalf("%s and %s share key %s", name, other, k)
		}
		seen[k] = name
	}
}

func TestKey_NormalizesUnicode(t *testing.T) {
	composed := From("patients").Where("city", OpEqual, "Zürich")
	decomposed := From("patients").Where("city", OpEqual, "Zu\u0308rich")

	assert.Equal(t, MustKey(composed), MustKey(decomposed))
}

func TestDocumentKey(t *testing.T) {
	k1, err := DocumentKey("patients/p1")
	require.NoError(t, err)
	k2, err := DocumentKey("/patients/p1/")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	_, err = DocumentKey("patients")
	assert.Error(t, err)

	qk := MustKey(From("patients"))
	assert.NotEqual(t, k1, qk)
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp("array-contains")
	require.NoError(t, err)
	assert.Equal(t, OpArrayContains, op)

	_, err = ParseOp("like")
	assert.Error(t, err)
}

func TestMarshalCanonical_SortsKeysAndKeepsHTML(t *testing.T) {
	b, err := marshalCanonical(map[string]any{"b": "<x>", "a": int64(1), "c": []any{true, nil, 1.5}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"<x>","c":[true,null,1.5]}`, string(b))
}
