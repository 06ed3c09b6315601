package dbstore

import (
	stdlog "log"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/sre-norns/imago/pkg/imago"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDSN = "imago.db"

// Dialector picks a gorm driver by the DSN scheme: postgres://, mysql:// or sqlite (default)
func Dialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn)
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	}

	return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
}

// Open connects to the database and migrates the schema of imago resources
func Open(dsn string, l log.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: logger.New(
			stdlog.New(log.NewStdlibAdapter(log.With(l, "component", "gorm")), "", 0),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, err
	}

	if db.Dialector.Name() == "sqlite" {
		// sqlite allows a single writer, concurrent connections fail with "database is locked"
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, Migrate(db)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&imago.LabelModel{},
		&imago.Search{},
		&imago.Batch{},
		&imago.Artifact{},
	)
}
