// Package store provides database access for the server history.
package store

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/db"
	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServerStore struct {
	db *gorm.DB
}

func NewServerStore(gdb *gorm.DB) *ServerStore {
	return &ServerStore{db: gdb}
}

// RecordOffer inserts ep or, if it is already known, bumps its offer count
// and last-seen time.
func (ss *ServerStore) RecordOffer(ctx context.Context, ep protocol.Endpoint, at time.Time) error {
	server := db.Server{
		Address:   ep.Addr.String(),
		TCPPort:   int(ep.TCPPort),
		UDPPort:   int(ep.UDPPort),
		FirstSeen: at.Unix(),
		LastSeen:  at.Unix(),
		Offers:    1,
	}

	return ss.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}, {Name: "tcp_port"}, {Name: "udp_port"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_seen": at.Unix(),
			"offers":    gorm.Expr("offers + 1"),
		}),
	}).Create(&server).Error
}

func (ss *ServerStore) GetServer(ctx context.Context, ep protocol.Endpoint) (db.Server, error) {
	var server db.Server
	err := ss.db.WithContext(ctx).
		Where("address = ? AND tcp_port = ? AND udp_port = ?", ep.Addr.String(), int(ep.TCPPort), int(ep.UDPPort)).
		First(&server).Error
	return server, err
}

// ListServers returns every known server, most recently seen first.
func (ss *ServerStore) ListServers(ctx context.Context) ([]db.Server, error) {
	var servers []db.Server
	err := ss.db.WithContext(ctx).Order("last_seen DESC").Order("id").Find(&servers).Error
	return servers, err
}
