package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cashGenesis = `
name: Cash
symbol: CASH
decimals: 9
initial_balances:
  - address: addr1
    amount: 11223344
  - address: addr2
    amount: "340282366920938463463374607431768211455"
minter: asmodat
cap: "511223344"
`

func TestParseGenesis(t *testing.T) {
	g, err := ParseGenesis([]byte(cashGenesis))
	require.NoError(t, err)

	assert.Equal(t, "Cash", g.Name)
	assert.Equal(t, "CASH", g.Symbol)
	assert.Equal(t, uint8(9), g.Decimals)
	require.Len(t, g.InitialBalances, 2)
	assert.Equal(t, "11223344", g.InitialBalances[0].Amount.String())
	assert.Equal(t, "340282366920938463463374607431768211455", g.InitialBalances[1].Amount.String())

	req := g.InitRequest()
	require.NotNil(t, req.Mint)
	assert.Equal(t, "asmodat", req.Mint.Address)
	require.NotNil(t, req.Mint.Cap)
	assert.Equal(t, "511223344", req.Mint.Cap.String())
	assert.Len(t, req.InitialBalances, 2)
}

func TestParseGenesis_NoMinter(t *testing.T) {
	g, err := ParseGenesis([]byte("name: Cash\nsymbol: CASH\ndecimals: 6\n"))
	require.NoError(t, err)

	req := g.InitRequest()
	assert.Nil(t, req.Mint)
	assert.Empty(t, req.InitialBalances)
}

func TestParseGenesis_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: ""},
		{name: "missing name", doc: "symbol: CASH\n"},
		{name: "cap without minter", doc: "name: Cash\nsymbol: CASH\ncap: \"10\"\n"},
		{name: "negative amount", doc: "name: Cash\nsymbol: CASH\ninitial_balances:\n  - address: addr1\n    amount: -1\n"},
		{name: "amount too large", doc: "name: Cash\nsymbol: CASH\ninitial_balances:\n  - address: addr1\n    amount: \"340282366920938463463374607431768211456\"\n"},
		{name: "missing address", doc: "name: Cash\nsymbol: CASH\ninitial_balances:\n  - amount: 1\n"},
		{name: "unknown field", doc: "name: Cash\nsymbol: CASH\nmarketing: yes\n"},
		{name: "decimals out of byte range", doc: "name: Cash\nsymbol: CASH\ndecimals: 300\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGenesis([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cashGenesis), 0o600))

	g, err := LoadGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, "asmodat", g.Minter)

	_, err = LoadGenesis(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
