package model

import "time"

// Commitment is a verified record of an LP allocation to a fund. The critic
// checks drafted claims about commitments against these records.
type Commitment struct {
	ID        string    `json:"id"`
	LPID      string    `json:"lp_id"`
	FundName  string    `json:"fund_name"`
	AmountUSD int64     `json:"amount_usd"`
	Date      time.Time `json:"date"`
}
