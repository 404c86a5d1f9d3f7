package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/db/migrations"
	"github.com/noah-isme/questplus-school-api/pkg/config"
	"github.com/noah-isme/questplus-school-api/pkg/database"
	"github.com/noah-isme/questplus-school-api/pkg/logger"
)

const usage = "usage: migrate up|up-by-one|up-to VERSION|down|down-to VERSION|redo|reset|status|version"

var gooseRun = goose.Run

var commands = map[string]int{
	"up":        0,
	"up-by-one": 0,
	"up-to":     1,
	"down":      0,
	"down-to":   1,
	"redo":      0,
	"reset":     0,
	"status":    0,
	"version":   0,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	if err := migrate(db.DB, os.Args[1:]); err != nil {
		logr.Fatal("migration failed", zap.Error(err))
	}
	logr.Info("migration finished", zap.Strings("args", os.Args[1:]))
}

func migrate(db *sql.DB, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	want, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q: %s", args[0], usage)
	}
	if len(args)-1 != want {
		return fmt.Errorf("%s expects %d argument(s): %s", args[0], want, usage)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return gooseRun(args[0], db, ".", args[1:]...)
}
