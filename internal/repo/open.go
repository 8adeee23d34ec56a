package repo

import (
	"fmt"

	"github.com/richardliu001/account-events/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// OpenDB opens the SQL database named by cfg. TranslateError is always on
// so lost version races surface as gorm.ErrDuplicatedKey.
func OpenDB(cfg config.StoreConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{PrepareStmt: true, TranslateError: true}
	switch cfg.Driver {
	case config.DriverPostgres:
		return gorm.Open(postgres.Open(cfg.DSN), gcfg)
	case config.DriverSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.DSN), gcfg)
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection keeps appends serialized
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	return nil, fmt.Errorf("driver %q has no SQL database", cfg.Driver)
}
