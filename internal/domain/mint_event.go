package domain

// ActionMint is the action attribute recorded for every mint.
const ActionMint = "mint"

// MintEvent is the audit record emitted by a committed mint.
type MintEvent struct {
	ID          string `json:"id"`           // see idhash.ComputeMintEventID
	Sequence    uint64 `json:"sequence"`     // 1-based mint counter
	Action      string `json:"action"`       // always ActionMint
	To          string `json:"to"`           // recipient
	Amount      Amount `json:"amount"`       // minted amount
	TotalSupply Amount `json:"total_supply"` // supply after the mint
	CreatedAt   int64  `json:"created_at"`   // commit time (ms)
}

// Attribute is a key/value pair of an event log.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Attributes returns the event log attributes in their canonical order:
// action, to, amount.
func (e *MintEvent) Attributes() []Attribute {
	return []Attribute{
		{Key: "action", Value: e.Action},
		{Key: "to", Value: e.To},
		{Key: "amount", Value: e.Amount.String()},
	}
}
