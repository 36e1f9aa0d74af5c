package actuator

import (
	"context"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/logger"
)

// LogSender only logs commands. It backs dry runs.
type LogSender struct{}

// Send logs the command and always succeeds.
func (LogSender) Send(ctx context.Context, command gate.Command) error {
	logger.InfoKV(ctx, "Dry run, command not delivered", "command", command.String())

	return nil
}
