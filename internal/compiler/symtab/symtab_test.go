package symtab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duragraph/duragraph/internal/compiler/symtab"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

func TestInsertAndLookupIdentifier(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector

	id, err := tab.InsertIdentifier("speed", symtab.ScopeLocal, &c)
	require.NoError(t, err)
	assert.False(t, c.HasErrors())

	got, ok := tab.GetIdentifierID("speed", false)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestRedefinitionInSameScopeIsRejected(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector

	_, err := tab.InsertIdentifier("speed", symtab.ScopeLocal, &c)
	require.NoError(t, err)

	_, err = tab.InsertIdentifier("speed", symtab.ScopeLocal, &c)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRedefinition)
	assert.True(t, c.HasErrors())
}

func TestSameNameDifferentKindDoesNotCollide(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector

	_, err := tab.InsertIdentifier("counter", symtab.ScopeLocal, &c)
	require.NoError(t, err)
	_, err = tab.InsertFlow("counter", symtab.FlowSignal, symtab.TimerNone, "", &c)
	require.NoError(t, err)
	assert.False(t, c.HasErrors())
}

func TestNestedScopeShadowingAndPop(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector

	outer, err := tab.InsertIdentifier("x", symtab.ScopeLocal, &c)
	require.NoError(t, err)

	tab.Local()
	inner, err := tab.InsertIdentifier("x", symtab.ScopeLocal, &c)
	require.NoError(t, err, "nested scope may redeclare a name from an enclosing scope")
	assert.NotEqual(t, outer, inner)

	got, ok := tab.GetIdentifierID("x", false)
	require.True(t, ok)
	assert.Equal(t, inner, got, "lookup favors the innermost scope")

	tab.Global()
	got, ok = tab.GetIdentifierID("x", false)
	require.True(t, ok)
	assert.Equal(t, outer, got, "popping the scope reverts to the outer binding")
}

func TestLocalOnlyLookupDoesNotSeeEnclosingScope(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector
	_, err := tab.InsertIdentifier("x", symtab.ScopeLocal, &c)
	require.NoError(t, err)

	tab.Local()
	_, ok := tab.GetIdentifierID("x", true)
	assert.False(t, ok)
}

func TestEnumerationElementsAreKeyedByEnumName(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector

	red1, err := tab.InsertEnumerationElement("Color", "Red", &c)
	require.NoError(t, err)
	red2, err := tab.InsertEnumerationElement("Paint", "Red", &c)
	require.NoError(t, err, "same element name under a different enum must not collide")
	assert.NotEqual(t, red1, red2)

	_, err = tab.InsertEnumerationElement("Color", "Red", &c)
	assert.Error(t, err)
}

func TestPutBackInContextReexposesSymbolInNewScope(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector
	id, err := tab.InsertIdentifier("shared", symtab.ScopeLocal, &c)
	require.NoError(t, err)

	tab.Local()
	_, ok := tab.GetIdentifierID("shared", true)
	require.False(t, ok)

	tab.PutBackInContext(id)
	got, ok := tab.GetIdentifierID("shared", true)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestSetTypeIsWriteOnce(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector
	id, err := tab.InsertIdentifier("x", symtab.ScopeLocal, &c)
	require.NoError(t, err)

	tab.SetType(id, "Int")
	typ, ok := tab.Get(id).Typing.Get()
	require.True(t, ok)
	assert.Equal(t, "Int", typ)

	assert.Panics(t, func() { tab.SetType(id, "Float") })
}

func TestGetConstantDistinguishesMissingFromNonConstant(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector
	id, err := tab.InsertIdentifier("limit", symtab.ScopeLocal, &c)
	require.NoError(t, err)

	_, derr := tab.GetConstant("limit", false)
	require.NotNil(t, derr)
	assert.ErrorIs(t, derr, errors.ErrExpectedConstant)

	tab.SetConstant(id, "120")
	val, derr := tab.GetConstant("limit", false)
	require.Nil(t, derr)
	assert.Equal(t, "120", val)

	_, derr = tab.GetConstant("limti", false)
	require.NotNil(t, derr)
	assert.ErrorIs(t, derr, errors.ErrUnknownSymbol)
	assert.Equal(t, "limit", derr.Details["did_you_mean"])
}

func TestFuzzyLookupFindsNearMiss(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector
	_, err := tab.InsertIdentifier("velocity", symtab.ScopeLocal, &c)
	require.NoError(t, err)

	hint, ok := tab.FuzzyLookup("velocty")
	require.True(t, ok)
	assert.Equal(t, "velocity", hint)
}

func TestFuzzyLookupRejectsDistantNames(t *testing.T) {
	tab := symtab.New()
	var c errors.Collector
	_, err := tab.InsertIdentifier("velocity", symtab.ScopeLocal, &c)
	require.NoError(t, err)

	_, ok := tab.FuzzyLookup("xyz")
	assert.False(t, ok)
}
