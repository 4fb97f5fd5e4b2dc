package repository

import (
	"donation-workflow-api/config"
)

// Open returns the store selected by DB_DRIVER. "memory" keeps everything in
// process and is meant for local runs and demos.
func Open(cfg *config.Config) (Store, error) {
	if cfg.Database.Driver == "memory" {
		return NewMemoryStore(), nil
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	return NewGormStore(db), nil
}
