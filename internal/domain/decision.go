package domain

// DecisionAction is the recommendation returned by the decision service.
type DecisionAction string

const (
	DecisionBuy  DecisionAction = "buy"
	DecisionSell DecisionAction = "sell"
	DecisionHold DecisionAction = "hold"
)

// Decision is the structured output of the external AI decision service. The
// engine treats the service as a black box and only consumes this shape.
type Decision struct {
	MarketID   string
	Action     DecisionAction
	Side       ContractSide
	Confidence float64 // 0..1
	LimitPrice *float64
	Reasoning  string
}
