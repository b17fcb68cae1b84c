package pattern

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "patterns"), nil)
	require.NoError(t, err)
	return s
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s := newStore(t)
	p := invoicePattern()
	require.NoError(t, s.Create(p))

	got, err := s.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestStore_CreateFailsWhenExists(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(invoicePattern()))
	assert.ErrorIs(t, s.Create(invoicePattern()), ErrPatternExists)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := newStore(t).Get("nope")
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestStore_Put(t *testing.T) {
	s := newStore(t)
	p := invoicePattern()
	p.Name = ""
	require.NoError(t, s.Put("acme", p))

	p.Page = 2
	require.NoError(t, s.Put("acme", p))
	got, err := s.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Page)

	assert.ErrorIs(t, s.Put("other", p), ErrInvalidPattern)
}

func TestStore_ListSortedAndSkipsBroken(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"zeta", "Alpha", "mid/slash"} {
		p := invoicePattern()
		p.Name = name
		require.NoError(t, s.Create(p))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.yml"), []byte("checks: {"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"), 0o644))

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []Summary{{Name: "Alpha"}, {Name: "mid/slash"}, {Name: "zeta"}}, list)
}

func TestStore_Rename(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(invoicePattern()))

	require.NoError(t, s.Rename("acme", "acme-2024"))

	_, err := s.Get("acme")
	assert.ErrorIs(t, err, ErrPatternNotFound)
	got, err := s.Get("acme-2024")
	require.NoError(t, err)
	assert.Equal(t, "acme-2024", got.Name)
	assert.Len(t, got.Fields, 2)
}

func TestStore_RenameRefusesExistingTarget(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(invoicePattern()))
	other := invoicePattern()
	other.Name = "other"
	other.Page = 3
	require.NoError(t, s.Create(other))

	assert.ErrorIs(t, s.Rename("acme", "other"), ErrPatternExists)

	kept, err := s.Get("other")
	require.NoError(t, err)
	assert.Equal(t, 3, kept.Page)
	_, err = s.Get("acme")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.Rename("missing", "x"), ErrPatternNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(invoicePattern()))
	require.NoError(t, s.Delete("acme"))
	assert.ErrorIs(t, s.Delete("acme"), ErrPatternNotFound)
}

func TestStore_ReadsHandwrittenFile(t *testing.T) {
	s := newStore(t)
	src := `name: receipts
page: 0
checks:
  - type: tags
    includes: [receipt]
  - type: region
    x: 0
    y: 0
    x2: 100
    y2: 50
    kind: regex
    regex_expr: 'Store (?P<Store>\w+)'
regions:
  - x: 0
    y: 0
    x2: 595
    y2: 842
    page: first_match
    kind: simple
    simple_expr: 'Total <Total:number:comma>'
fields:
  - kind: custom
    name: Total
    template: '{{ Total|parse_monetary }}'
`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "receipts.yml"), []byte(src), 0o644))

	p, err := s.Get("receipts")
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	assert.Len(t, p.Checks, 2)
	assert.Equal(t, "Total <Total:number:comma>", p.Regions[0].SimpleExpr)
	assert.Equal(t, "{{ Total|parse_monetary }}", p.Fields[0].Template)
}
