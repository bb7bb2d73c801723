package model

// ConditionKind is the closed set of trigger predicates. Flag kinds answer
// yes/no on their own; compare kinds compute a number and apply the
// trigger's operator against the trigger's value.
type ConditionKind string

const (
	// Flag conditions.
	CondSignalBuy       ConditionKind = "SIGNAL_BUY"
	CondSignalSell      ConditionKind = "SIGNAL_SELL"
	CondHasTransaction  ConditionKind = "HAS_TRANSACTION"  // expert-scoped
	CondNoTransaction   ConditionKind = "NO_TRANSACTION"   // expert-scoped
	CondHasPosition     ConditionKind = "HAS_POSITION"     // account-scoped
	CondNoPosition      ConditionKind = "NO_POSITION"      // account-scoped
	CondHorizonShort    ConditionKind = "HORIZON_SHORT"
	CondHorizonMedium   ConditionKind = "HORIZON_MEDIUM"
	CondHorizonLong     ConditionKind = "HORIZON_LONG"
	CondRiskLow         ConditionKind = "RISK_LOW"
	CondRiskMedium      ConditionKind = "RISK_MEDIUM"
	CondRiskHigh        ConditionKind = "RISK_HIGH"
	CondRatingUpgrade   ConditionKind = "RATING_UPGRADE"
	CondRatingDowngrade ConditionKind = "RATING_DOWNGRADE"
	CondTargetAboveTP   ConditionKind = "TARGET_ABOVE_TAKE_PROFIT"
	CondTargetBelowTP   ConditionKind = "TARGET_BELOW_TAKE_PROFIT"

	// Compare conditions.
	CondConfidence          ConditionKind = "CONFIDENCE"
	CondExpectedProfit      ConditionKind = "EXPECTED_PROFIT"
	CondUnrealizedPL        ConditionKind = "UNREALIZED_PL"
	CondUnrealizedPLPct     ConditionKind = "UNREALIZED_PL_PCT"
	CondDaysSinceOpen       ConditionKind = "DAYS_SINCE_OPEN"
	CondDistanceToTarget    ConditionKind = "DISTANCE_TO_TARGET"
	CondDistanceToNewTarget ConditionKind = "DISTANCE_TO_NEW_TARGET"
	CondPositionSharePct    ConditionKind = "POSITION_SHARE_PCT"
)

type CompareOp string

const (
	OpGT CompareOp = ">"
	OpLT CompareOp = "<"
	OpGE CompareOp = ">="
	OpLE CompareOp = "<="
	OpEQ CompareOp = "=="
	OpNE CompareOp = "!="
)

// ActionKind is the closed set of trade intents a satisfied rule can
// materialize.
type ActionKind string

const (
	ActBuy              ActionKind = "BUY"
	ActSell             ActionKind = "SELL"
	ActClose            ActionKind = "CLOSE"
	ActAdjustTakeProfit ActionKind = "ADJUST_TAKE_PROFIT"
	ActAdjustStopLoss   ActionKind = "ADJUST_STOP_LOSS"
	ActIncreaseShare    ActionKind = "INCREASE_SHARE"
	ActDecreaseShare    ActionKind = "DECREASE_SHARE"
)

// PriceReference names the base price a percent adjustment is applied to.
type PriceReference string

const (
	RefOrderPrice   PriceReference = "ORDER_PRICE"
	RefCurrentPrice PriceReference = "CURRENT_PRICE"
	RefExpertTarget PriceReference = "EXPERT_TARGET"
)

// Trigger is one condition inside a rule. Op and Value only apply to
// compare kinds.
type Trigger struct {
	ID    string        `yaml:"id" json:"id"`
	Kind  ConditionKind `yaml:"kind" json:"kind"`
	Op    CompareOp     `yaml:"op,omitempty" json:"op,omitempty"`
	Value float64       `yaml:"value,omitempty" json:"value,omitempty"`
}

// ActionParams carries the kind-specific knobs of a rule action.
type ActionParams struct {
	// Explicit price for TP/SL adjustments. Takes precedence over
	// Reference+Percent when set.
	Price *float64 `yaml:"price,omitempty" json:"price,omitempty"`

	// Reference and Percent compute a price: reference * (1 + pct/100),
	// with the sign convention applied by the materializer.
	Reference PriceReference `yaml:"reference,omitempty" json:"reference,omitempty"`
	Percent   *float64       `yaml:"percent,omitempty" json:"percent,omitempty"`

	// TargetPercent of the expert's virtual equity, for share resizing.
	TargetPercent *float64 `yaml:"target_percent,omitempty" json:"target_percent,omitempty"`

	Comment string `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// RuleAction is one materializable action inside a rule.
type RuleAction struct {
	ID     string       `yaml:"id" json:"id"`
	Kind   ActionKind   `yaml:"kind" json:"kind"`
	Params ActionParams `yaml:"params,omitempty" json:"params,omitempty"`
}

// Rule is an ordered, named group of triggers and actions. Triggers are
// evaluated in declaration order; all must pass (a rule with zero triggers
// is vacuously satisfied). ContinueProcessing controls whether later rules
// in the ruleset still run after this one fires.
type Rule struct {
	Name               string       `yaml:"name" json:"name"`
	Triggers           []Trigger    `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Actions            []RuleAction `yaml:"actions,omitempty" json:"actions,omitempty"`
	ContinueProcessing bool         `yaml:"continue_processing,omitempty" json:"continue_processing,omitempty"`
}

// Ruleset is the ordered rule list one expert evaluates per recommendation.
type Ruleset struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Rules []Rule `yaml:"rules" json:"rules"`
}
