package core

// Account is a snapshot of the trading account state at the gateway.
// Values are denominated in the account currency.
type Account struct {
	Login      int64
	Currency   string
	Balance    float64
	Equity     float64
	MarginFree float64
}

// DrawdownPercent returns how far equity sits below a reference balance,
// as a percentage of that reference. Zero or better returns 0.
func (a Account) DrawdownPercent(reference float64) float64 {
	if reference <= 0 {
		return 0
	}
	dd := (reference - a.Equity) / reference * 100
	if dd < 0 {
		return 0
	}
	return dd
}
