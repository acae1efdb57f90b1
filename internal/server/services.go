package server

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openhaul/haulbox/internal/server/depot"
)

type Services struct {
	Depot *depot.Service
}

func NewServices(config *Config, db *sqlx.DB) (*Services, error) {
	depotSvc, err := depot.NewService(config.DataDir, db)
	if err != nil {
		return nil, fmt.Errorf("create depot service: %w", err)
	}

	return &Services{Depot: depotSvc}, nil
}
