package domain

import "context"

// MetadataSource is a keyed read-through source of token and pool attributes.
// Implementations may cache; callers treat returned values as immutable
// snapshots. Lookups return ErrNotFound when the key is unknown.
type MetadataSource interface {
	Token(ctx context.Context, network Network, address string) (TokenInfo, error)
	Pool(ctx context.Context, network Network, address string) (PoolInfo, error)
	// PoolByPair resolves the deepest known pool for a token pair. Order of
	// the two token addresses does not matter.
	PoolByPair(ctx context.Context, network Network, tokenA, tokenB string) (PoolInfo, error)
}

// MetadataInvalidator is implemented by caching MetadataSources that can drop
// entries so the next read fetches fresh state. Layered caches forward the
// invalidation to their upstream so every tier refetches.
type MetadataInvalidator interface {
	Invalidate(ctx context.Context, network Network, address string)
}

// OpportunityStore persists emitted opportunities for later analysis.
type OpportunityStore interface {
	Insert(ctx context.Context, opp SandwichOpportunity) error
}

// ExecutionStore persists terminal execution results and can reconstruct the
// running aggregate after a restart.
type ExecutionStore interface {
	Insert(ctx context.Context, res ExecutionResult) error
	LoadStats(ctx context.Context) (ExecutionStats, error)
}

// SignalBus is a fire-and-forget publish/subscribe fabric used to expose
// opportunity and execution events to out-of-process consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
