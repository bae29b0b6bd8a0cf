package docpath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Kinds(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
		str  string
	}{
		{"consultationRequests", KindCollection, "consultationRequests"},
		{"consultationRequests/r1", KindDocument, "consultationRequests/r1"},
		{"/doctors/d1/slots/", KindCollection, "doctors/d1/slots"},
		{"doctors/d1/slots/s9", KindDocument, "doctors/d1/slots/s9"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Kind())
			assert.Equal(t, tt.str, p.String())
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, raw := range []string{"", "/", "a//b", "a/./b", "a/__name__"} {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			require.Error(t, err)

			var pe *PathError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestDocumentAndCollection(t *testing.T) {
	_, err := Document("patients")
	assert.Error(t, err)

	_, err = Collection("patients/p1")
	assert.Error(t, err)

	doc, err := Document("patients/p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", doc.ID())
	assert.Equal(t, "patients", doc.Parent().String())
	assert.True(t, doc.Parent().Parent().IsZero())
}

func TestChild(t *testing.T) {
	col, err := Collection("doctors/d1/slots")
	require.NoError(t, err)

	child, err := col.Child("s1")
	require.NoError(t, err)
	assert.Equal(t, "doctors/d1/slots/s1", child.String())
	assert.Equal(t, KindDocument, child.Kind())

	_, err = child.Child("x")
	assert.Error(t, err)
}

func TestSegments_ReturnsCopy(t *testing.T) {
	p, err := Parse("a/b")
	require.NoError(t, err)

	segs := p.Segments()
	segs[0] = "mutated"
	assert.Equal(t, "a/b", p.String())
}
