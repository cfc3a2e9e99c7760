package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"festival-ticketing/internal/config"
	"festival-ticketing/internal/database/migrations"
	"festival-ticketing/internal/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load()

	seed := flag.Bool("seed", false, "also apply catalog seed migrations")
	to := flag.Int("to", -1, "migrate up or down to this version")
	down := flag.Bool("down", false, "roll back every migration")
	flag.Parse()

	cfg := config.Load()
	log, err := logger.NewLogger(logger.Options{Service: "migrate", MinLevel: logger.ParseLevel(cfg.Log.Level)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open database: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}

	runner := migrations.NewRunner(sqldb, migrations.MigrateOptions{SeedData: *seed}, log)
	defer runner.Close()

	switch {
	case *down:
		err = runner.MigrateDown()
	case *to >= 0:
		err = runner.MigrateTo(uint(*to))
	default:
		err = runner.RunMigrations()
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}

	version, dirty, err := runner.Version()
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("Schema at version %d (dirty=%t)", version, dirty))
}
