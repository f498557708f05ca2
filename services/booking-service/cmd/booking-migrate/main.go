// Command booking-migrate applies the embedded booking-service schema.
//
//	booking-migrate            migrate up
//	booking-migrate down       roll back one step
//	booking-migrate force N    mark version N as clean
package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/md-rashed-zaman/apptremind/libs/config"
	"github.com/md-rashed-zaman/apptremind/libs/runtime"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/migrations"
)

func main() {
	_ = godotenv.Load()
	logger := runtime.NewLogger("booking-migrate")

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	conn, err := sql.Open("pgx", dbURL)
	if err != nil {
		logger.Error("open db", "err", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()
	if err := conn.Ping(); err != nil {
		logger.Error("ping db", "err", err)
		os.Exit(1)
	}

	dbDriver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		logger.Error("db driver", "err", err)
		os.Exit(1)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("source driver", "err", err)
		os.Exit(1)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	if err != nil {
		logger.Error("create migrator", "err", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	args := os.Args[1:]
	switch {
	case len(args) >= 2 && args[0] == "force":
		version, err := strconv.Atoi(args[1])
		if err != nil {
			logger.Error("invalid version", "value", args[1])
			os.Exit(2)
		}
		if err := m.Force(version); err != nil {
			logger.Error("force version", "err", err)
			os.Exit(1)
		}
		logger.Info("forced migration version", "version", version)
		return
	case len(args) >= 1 && args[0] == "down":
		err = m.Steps(-1)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migrate", "err", err)
		os.Exit(1)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations complete", "version", version, "dirty", dirty)
}
