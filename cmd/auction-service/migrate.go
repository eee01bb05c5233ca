package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"timebid/internal/infrastructure/mysql"
	"timebid/pkg/logger"
	"timebid/pkg/utils"
)

func migrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logger.NewWithConfig(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding, Service: "auction-service"})
	defer logger.Sync(log)

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	db, err := utils.InitializeMysql(ctx, cfg.MySQL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	return mysql.Migrate(db.DB, log)
}
