// Package expert models a signal-generating strategy instance: its capital
// budget ("virtual equity", distinct from total account equity) and the
// settings that gate what the engine may do on its behalf.
package expert

import "github.com/rustyeddy/advisor/model"

// Settings gates automated behavior per expert.
type Settings struct {
	EnableBuy                  bool `yaml:"enable_buy" json:"enable_buy"`
	EnableSell                 bool `yaml:"enable_sell" json:"enable_sell"`
	AllowAutomatedTradeOpening bool `yaml:"allow_automated_trade_opening" json:"allow_automated_trade_opening"`

	// MaxEquityPerInstrumentPct caps one instrument's share of the
	// expert's virtual balance, in percent.
	MaxEquityPerInstrumentPct float64 `yaml:"max_equity_per_instrument_pct" json:"max_equity_per_instrument_pct"`

	// InstrumentWeights scales allocations per symbol, in percent.
	// Missing symbols default to 100.
	InstrumentWeights map[string]float64 `yaml:"instrument_weights,omitempty" json:"instrument_weights,omitempty"`
}

// Instance is one configured expert.
type Instance struct {
	ID        string `yaml:"id" json:"id"`
	AccountID string `yaml:"account_id" json:"account_id"`
	Name      string `yaml:"name" json:"name"`
	RulesetID string `yaml:"ruleset_id" json:"ruleset_id"`

	// VirtualBalance is the capital budget this expert may deploy.
	VirtualBalance float64 `yaml:"virtual_balance" json:"virtual_balance"`

	Settings Settings `yaml:"settings" json:"settings"`
}

// InstrumentCap returns the per-instrument capital ceiling in account
// currency.
func (e *Instance) InstrumentCap() float64 {
	return e.VirtualBalance * e.Settings.MaxEquityPerInstrumentPct / 100
}

// Weight returns the allocation weight for a symbol, in percent.
func (e *Instance) Weight(symbol string) float64 {
	if w, ok := e.Settings.InstrumentWeights[symbol]; ok {
		return w
	}
	return 100
}

// SideEnabled reports whether the expert may open orders on the given side.
func (e *Instance) SideEnabled(side model.Side) bool {
	if side == model.Buy {
		return e.Settings.EnableBuy
	}
	return e.Settings.EnableSell
}

// AvailableBalance is the expert's disposable capital: the virtual balance
// minus what its open transactions already consume.
func (e *Instance) AvailableBalance(open []model.Transaction) float64 {
	bal := e.VirtualBalance
	for i := range open {
		bal -= open[i].Cost()
	}
	if bal < 0 {
		return 0
	}
	return bal
}
