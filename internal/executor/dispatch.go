package executor

import (
	"fmt"

	"polymarket-engine/pkg/types"
)

// ByStrategy routes each Action to the paper or live executor assigned to
// its StrategyName, per that strategy's `live: true/false` config flag.
// An action from a strategy with no registered route is a
// configuration bug, not a trading decision, so it fails loudly rather
// than silently falling back to paper or live.
type ByStrategy struct {
	routes map[string]Executor
}

// NewByStrategy builds a dispatching executor from a strategy name -> mode
// map. Callers assemble routes once at startup from the loaded strategy
// configs plus shared Paper/Live instances.
func NewByStrategy(routes map[string]Executor) *ByStrategy {
	return &ByStrategy{routes: routes}
}

func (b *ByStrategy) Execute(action types.Action, tick types.Tick) (*types.Trade, error) {
	exec, ok := b.routes[action.StrategyName]
	if !ok {
		return nil, fmt.Errorf("no executor route configured for strategy %q", action.StrategyName)
	}
	return exec.Execute(action, tick)
}
