// pattern_test.go
package lilith

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(name string) S     { return L("id", name) }
func num(v int64) S        { return L("num", v) }
func bind(name string) S   { return L("pbind", name) }
func lit(n S) S            { return L("plit", n) }
func tup(parts ...any) S   { return L("tuple", parts...) }
func ptup(parts ...any) S  { return L("ptuple", parts...) }
func pair(k, v S) S        { return L("pair", k, v) }

func Test_Match_Bind(t *testing.T) {
	b, ok := Match(bind("$?"), num(3))
	require.True(t, ok)
	assert.True(t, EqualS(b["$?"], num(3)))
}

func Test_Match_Bind_Repeated_Name(t *testing.T) {
	pat := ptup(bind("$?"), bind("$?"))
	_, ok := Match(pat, tup(num(1), num(1)))
	assert.True(t, ok, "equal subtrees under one name should match")

	_, ok = Match(pat, tup(num(1), num(2)))
	assert.False(t, ok, "unequal subtrees under one name should not match")
}

func Test_Match_Literal(t *testing.T) {
	_, ok := Match(lit(num(7)), num(7))
	assert.True(t, ok)
	_, ok = Match(lit(num(7)), num(8))
	assert.False(t, ok)
	_, ok = Match(lit(num(7)), id("$"))
	assert.False(t, ok)
}

func Test_Match_Tuple_Arity(t *testing.T) {
	pat := ptup(bind("$_"), bind("_$"))
	b, ok := Match(pat, tup(num(1), id("&")))
	require.True(t, ok)
	assert.True(t, EqualS(b["$_"], num(1)))
	assert.True(t, EqualS(b["_$"], id("&")))

	_, ok = Match(pat, tup(num(1)))
	assert.False(t, ok, "arity mismatch must fail")
	_, ok = Match(pat, L("list", num(1), num(2)))
	assert.False(t, ok, "node kind mismatch must fail")
}

func Test_Match_Tensor_Stream(t *testing.T) {
	_, ok := Match(L("ptensor", lit(num(1)), bind("$?")), L("tensorlit", num(1), num(2)))
	assert.True(t, ok)
	_, ok = Match(L("pstream", bind("$?")), L("streamlit", num(9)))
	assert.True(t, ok)
	_, ok = Match(L("ptensor", bind("$?")), L("streamlit", num(9)))
	assert.False(t, ok)
}

func Test_Match_Graph_Subset_Keys(t *testing.T) {
	subject := L("dict",
		pair(L("str", "rate"), num(3)),
		pair(L("str", "size"), num(64)),
	)
	pat := L("pgraph", pair(L("str", "rate"), bind("$?")))
	b, ok := Match(pat, subject)
	require.True(t, ok, "extra subject keys are allowed")
	assert.True(t, EqualS(b["$?"], num(3)))

	pat2 := L("pgraph", pair(L("str", "missing"), bind("$?")))
	_, ok = Match(pat2, subject)
	assert.False(t, ok, "absent pattern key must fail")
}

func Test_Match_Failure_Yields_No_Bindings(t *testing.T) {
	pat := ptup(bind("$_"), lit(num(2)))
	b, ok := Match(pat, tup(num(1), num(3)))
	assert.False(t, ok)
	assert.Nil(t, b, "failed match must not leak partial bindings")
}

func Test_MatchFirst_Order(t *testing.T) {
	rules := []Rule{
		{Pattern: lit(num(1)), Template: id("$one")},
		{Pattern: bind("$?"), Template: id("$any")},
	}
	tmpl, _, ok := MatchFirst(rules, num(1))
	require.True(t, ok)
	assert.Equal(t, "$one", tmpl[1].(string), "first matching rule wins")

	tmpl, b, ok := MatchFirst(rules, num(5))
	require.True(t, ok)
	assert.Equal(t, "$any", tmpl[1].(string))
	assert.True(t, EqualS(b["$?"], num(5)))
}
