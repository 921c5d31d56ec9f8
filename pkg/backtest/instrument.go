package backtest

// Instrument identifies a tradable asset inside a backtest. DataKey is the
// explicit series lookup key, bound once at data-source registration; it is
// deliberately separate from the display name so renaming an instrument can
// never silently detach it from its data.
type Instrument struct {
	Name     string
	DataKey  string
	Currency string
}

// NewInstrument builds an instrument whose data key equals its name.
func NewInstrument(name, currency string) Instrument {
	return Instrument{Name: name, DataKey: name, Currency: currency}
}

// CashAsset is the distinguished ledger instrument for a currency. Cost
// and fee orders are denominated in it and always price at zero.
func CashAsset(currency string) Instrument {
	return Instrument{Name: currency + " Cash", DataKey: "", Currency: currency}
}

// IsCash reports whether the instrument is a cash asset.
func (i Instrument) IsCash() bool { return i.DataKey == "" && i.Currency != "" }
