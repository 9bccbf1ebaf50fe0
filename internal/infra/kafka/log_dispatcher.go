package kafka

import (
	"context"

	"github.com/rs/zerolog"

	"shop-fulfillment/internal/domain/ports/adapter"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/infra/metrics"
)

var _ adapter.CommandDispatcher = (*LogDispatcher)(nil)

// LogDispatcher only logs commands. Used when no brokers are configured.
type LogDispatcher struct {
	log *zerolog.Logger
}

func NewLogDispatcher(logger *zerolog.Logger) *LogDispatcher {
	l := logger.With().Str("component", "LogDispatcher").Logger()
	return &LogDispatcher{log: &l}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, cmd adapter.DeliveryCommand) error {
	logging.With(ctx, d.log).Info().
		Str("kind", string(cmd.Kind)).
		Str("item_id", cmd.ItemID).
		Str("buyable", cmd.Buyable).
		Str("command", cmd.Command).
		Bool("renewal", cmd.Renewal).
		Msg("delivery command")
	metrics.IncCommandDispatch(string(cmd.Kind), true)
	return nil
}
