package poker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCard(t *testing.T) {
	c, err := ParseCard("Ah")
	require.NoError(t, err)
	assert.Equal(t, 12, c.Rank())
	assert.Equal(t, "Ah", c.String())

	c, err = ParseCard("tD")
	require.NoError(t, err)
	assert.Equal(t, "Td", c.String())

	_, err = ParseCard("1h")
	assert.Error(t, err)
	_, err = ParseCard("A")
	assert.Error(t, err)
}

func TestParseCards(t *testing.T) {
	cs, err := ParseCards("AhKsQd")
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Equal(t, "Ks", cs[1].String())

	_, err = ParseCards("AhK")
	assert.Error(t, err)
}

func TestComboKey(t *testing.T) {
	ah, _ := ParseCard("Ah")
	ks := mustCard(t, "Ks")
	kh := mustCard(t, "Kh")
	ad := mustCard(t, "Ad")

	assert.Equal(t, "AKo", ComboKey(ah, ks))
	assert.Equal(t, "AKo", ComboKey(ks, ah))
	assert.Equal(t, "AKs", ComboKey(ah, kh))
	assert.Equal(t, "AA", ComboKey(ah, ad))
}

func TestCanonicalHolecards(t *testing.T) {
	got, err := CanonicalHolecards("KsAh")
	require.NoError(t, err)
	assert.Equal(t, "AhKs", got)

	got, err = CanonicalHolecards("AhKs")
	require.NoError(t, err)
	assert.Equal(t, "AhKs", got)

	_, err = CanonicalHolecards("AhKsQd")
	assert.Error(t, err)
}

func mustCard(t *testing.T, s string) Card {
	t.Helper()
	c, err := ParseCard(s)
	require.NoError(t, err)
	return c
}
