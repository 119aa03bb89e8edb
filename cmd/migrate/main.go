package main

import (
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-scheduler/internal/db"
	"github.com/hackgods/clinic-booking-scheduler/internal/logging"
)

// Usage:
//
//	migrate up
//	migrate down
//	migrate -version 1 force
func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"), "migrate")

	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	var version int
	flag.IntVar(&version, "version", -1, "version for the force command")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	mg, err := db.NewMigrator(dsn, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer closeMigrator(mg, logger)

	switch cmd {
	case "up":
		err = mg.Up()
	case "down":
		err = mg.Down()
	case "force":
		if version < 0 {
			logger.Fatal().Msg("force needs -version")
		}
		err = mg.Force(version)
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command, want up, down or force")
	}
	if err != nil {
		closeMigrator(mg, logger)
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
}

func closeMigrator(mg *db.Migrator, logger zerolog.Logger) {
	if err := mg.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing migrator")
	}
}
