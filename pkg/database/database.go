package database

import (
	"context"
	"fmt"
	"time"

	"github.com/closeflow/closeflow/pkg/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Client holds the database handle
type Client struct {
	DB *gorm.DB
}

// NewClient opens a Postgres connection and runs migrations
func NewClient(databaseURL string) (*Client, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed running migrations: %w", err)
	}

	return &Client{DB: db}, nil
}

// Migrate creates or updates the schema for every persistent entity,
// including the unique indexes the verification pipeline relies on.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Business{},
		&models.Caller{},
		&models.LeadPool{},
		&models.Lead{},
		&models.Assignment{},
		&models.Appointment{},
		&models.Payment{},
		&models.FraudAlert{},
		&models.Dispute{},
		&models.Rating{},
		&models.Achievement{},
		&models.Notification{},
	)
}

// Close closes the database connection
func (c *Client) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
