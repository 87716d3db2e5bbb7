package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"token-ledger/internal/domain"
	"token-ledger/internal/ledger"
)

// Genesis is the document describing the token created at initialization.
//
//	name: Cash
//	symbol: CASH
//	decimals: 9
//	initial_balances:
//	  - address: addr1
//	    amount: "11223344"
//	minter: asmodat
//	cap: "511223344"
type Genesis struct {
	Name            string           `yaml:"name" validate:"required"`
	Symbol          string           `yaml:"symbol" validate:"required"`
	Decimals        uint8            `yaml:"decimals"`
	InitialBalances []GenesisBalance `yaml:"initial_balances" validate:"dive"`
	Minter          string           `yaml:"minter"`
	Cap             *domain.Amount   `yaml:"cap"`
}

// GenesisBalance is one initial distribution entry.
type GenesisBalance struct {
	Address string        `yaml:"address" validate:"required"`
	Amount  domain.Amount `yaml:"amount"`
}

var validate = validator.New()

// LoadGenesis reads and validates the genesis document at path.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes and validates a YAML genesis document. Unknown fields
// are rejected.
func ParseGenesis(data []byte) (*Genesis, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var g Genesis
	if err := dec.Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode genesis: empty document")
		}
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := validate.Struct(&g); err != nil {
		return nil, fmt.Errorf("validate genesis: %w", err)
	}
	if g.Cap != nil && g.Minter == "" {
		return nil, fmt.Errorf("validate genesis: cap requires minter")
	}
	return &g, nil
}

// InitRequest converts g into the request consumed by ledger.Service.Init.
func (g *Genesis) InitRequest() ledger.InitRequest {
	req := ledger.InitRequest{
		Name:     g.Name,
		Symbol:   g.Symbol,
		Decimals: g.Decimals,
	}
	for _, b := range g.InitialBalances {
		req.InitialBalances = append(req.InitialBalances, domain.InitialBalance{
			Address: b.Address,
			Amount:  b.Amount,
		})
	}
	if g.Minter != "" {
		req.Mint = &domain.Minter{Address: g.Minter}
		if g.Cap != nil {
			c := *g.Cap
			req.Mint.Cap = &c
		}
	}
	return req
}
