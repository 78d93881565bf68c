package query

// BalanceResponse is a holder's projected balance on one token.
type BalanceResponse struct {
	Contract string `json:"contract"`
	Holder   string `json:"holder"`
	Balance  int64  `json:"balance"`

	// last applied call sequence
	AsOfSequence int64 `json:"as_of_sequence"`
}

// SupplyResponse is a token's projected supply and issuer.
type SupplyResponse struct {
	Contract     string `json:"contract"`
	Admin        string `json:"admin"`
	TotalSupply  int64  `json:"total_supply"`
	Holders      int64  `json:"holders"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// HolderEntry is one row of a token's holder list.
type HolderEntry struct {
	Holder  string `json:"holder"`
	Balance int64  `json:"balance"`
}
