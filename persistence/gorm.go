package persistence

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type slotRow struct {
	Name      string `gorm:"primaryKey"`
	Value     datatypes.JSON
	UpdatedAt time.Time
}

func (slotRow) TableName() string {
	return "gorm_cache_slots"
}

type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a gorm backed store, dialect is "sqlite" or "postgres".
func NewGormStore(dialect, dsn string) (*GormStore, error) {
	var dial gorm.Dialector
	switch dialect {
	case "postgres":
		dial = postgres.Open(dsn)

	case "sqlite":
		dial = sqlite.Open(dsn)

	default:
		return nil, fmt.Errorf("invalid gorm dialect %q", dialect)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&slotRow{})
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (p *GormStore) Get(slot string) (string, error) {
	row := slotRow{}
	err := p.db.First(&row, "name = ?", slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(row.Value), nil
}

func (p *GormStore) Set(slot, value string) error {
	row := slotRow{Name: slot, Value: datatypes.JSON(value)}
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (p *GormStore) Delete(slot string) error {
	return p.db.Delete(&slotRow{}, "name = ?", slot).Error
}

func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
