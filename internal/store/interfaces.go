package store

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/db"
	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
)

// ServerRepository defines discovered-server history operations.
type ServerRepository interface {
	RecordOffer(ctx context.Context, ep protocol.Endpoint, at time.Time) error
	GetServer(ctx context.Context, ep protocol.Endpoint) (db.Server, error)
	ListServers(ctx context.Context) ([]db.Server, error)
}
