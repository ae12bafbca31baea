package models

import (
	"time"

	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
)

// ProcessedCommand maps to table `processed_commands`
type ProcessedCommand struct {
	MessageID string
	Status    pkg.CommandStatus
	ClaimedAt time.Time
	UpdatedAt time.Time
}
