package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/equilens/equilens/internal/app"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	if *migrateOnly {
		if errMigrate := app.Migrate(*configPath); errMigrate != nil {
			log.WithError(errMigrate).Fatal("migrate failed")
		}
		log.Info("migrations applied")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := app.RunServer(ctx, *configPath); errRun != nil {
		log.WithError(errRun).Fatal("server exited")
	}
}
