package database

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/auctionchain/auction-mirror/internal/config"
	"github.com/auctionchain/auction-mirror/internal/logger"
)

var allEntities = []interface{}{
	Block{}, Auction{}, Bid{}, AuctionStatus{}, PalletSetting{}, SkippedBlock{},
}

// DB wraps the gorm handle; it is the sole writer of the mirrored tables.
type DB struct {
	g *gorm.DB
}

func New(cfg *config.DB) (*DB, error) {
	g, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("connected to the DB")

	db := &DB{g: g}
	if err := db.migrate(cfg.DropTableAtStart); err != nil {
		return nil, err
	}

	return db, nil
}

// FromGorm wraps an existing gorm handle and migrates the schema. Used by
// tests to run the store against sqlite.
func FromGorm(g *gorm.DB) (*DB, error) {
	db := &DB{g: g}
	return db, db.migrate(false)
}

func (db *DB) migrate(dropFirst bool) error {
	if dropFirst {
		logger.Info("DB tables dropped at start")

		if err := db.g.Migrator().DropTable(allEntities...); err != nil {
			return errors.Wrap(err, "DropTable")
		}
	}

	if err := db.g.AutoMigrate(allEntities...); err != nil {
		return errors.Wrap(err, "AutoMigrate")
	}

	logger.Debug("migrated DB entities")

	return nil
}

func Connect(cfg *config.DB) (*gorm.DB, error) {
	gormCfg := gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel(cfg)),
	}

	return gorm.Open(postgres.Open(formatDSN(cfg)), &gormCfg)
}

func gormLogLevel(cfg *config.DB) gormlogger.LogLevel {
	if cfg.LogQueries {
		return gormlogger.Info
	}

	return gormlogger.Silent
}

func formatDSN(cfg *config.DB) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.DBName,
	}

	return u.String()
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.g.DB()
	if err != nil {
		return errors.Wrap(err, "acquiring sql.DB")
	}

	return sqlDB.Close()
}
