package domain

// MaxDecimals is the largest number of decimal places a token may declare.
const MaxDecimals = 18

// TokenInfo is the token metadata record. It is created once at
// initialization and afterwards only TotalSupply and MintSequence change.
type TokenInfo struct {
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	Decimals     uint8   `json:"decimals"`
	TotalSupply  Amount  `json:"total_supply"`
	Minter       *Minter `json:"mint,omitempty"` // nil: minting disabled
	MintSequence uint64  `json:"mint_sequence"`  // number of committed mints
}

// Minter is the single address allowed to mint, with an optional supply cap.
type Minter struct {
	Address string  `json:"minter"`
	Cap     *Amount `json:"cap,omitempty"` // nil: unlimited
}

// Cap returns the configured supply cap, if any.
func (t *TokenInfo) Cap() (Amount, bool) {
	if t.Minter == nil || t.Minter.Cap == nil {
		return Amount{}, false
	}
	return *t.Minter.Cap, true
}

// Clone returns a deep copy of t.
func (t *TokenInfo) Clone() *TokenInfo {
	c := *t
	if t.Minter != nil {
		m := *t.Minter
		if t.Minter.Cap != nil {
			capCopy := *t.Minter.Cap
			m.Cap = &capCopy
		}
		c.Minter = &m
	}
	return &c
}

// Metadata is the public view of TokenInfo.
type Metadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply Amount `json:"total_supply"`
}

// Metadata projects t onto its public fields.
func (t *TokenInfo) Metadata() Metadata {
	return Metadata{
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		TotalSupply: t.TotalSupply,
	}
}

// InitialBalance is one entry of the initial distribution.
type InitialBalance struct {
	Address string `json:"address"`
	Amount  Amount `json:"amount"`
}

// Balance is a stored ledger entry.
type Balance struct {
	Address string `json:"address"`
	Amount  Amount `json:"amount"`
}
