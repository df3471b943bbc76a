/*Package spotdb stores spot measurements in the operational PostgreSQL
database.  A visit is recorded once in pfs_visit, each analyzed exposure once
in agc_exposure, and every camera's spots are bulk inserted into agc_data.
Repeated writes of the same keys are ignored.
*/
package spotdb

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/nasa-jpl/agcc/agcc"
)

// BatchSize is the number of agc_data rows per INSERT
const BatchSize = 500

// Config is the database connection
type Config struct {
	Host     string `yaml:"Host"`
	Port     int    `yaml:"Port"`
	User     string `yaml:"User"`
	Password string `yaml:"Password"`
	DBName   string `yaml:"DBName"`
	SSLMode  string `yaml:"SSLMode"`

	// Migrate creates missing tables on connect
	Migrate bool `yaml:"Migrate"`

	// ConnectTimeout bounds the connection retries
	ConnectTimeout time.Duration `yaml:"ConnectTimeout"`
}

// DSN is the libpq connection string of c
func (c Config) DSN() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.DBName, ssl)
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	return dsn
}

// Store writes spots through gorm.  It implements agcc.SpotSink.
type Store struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// New wraps an open gorm DB
func New(db *gorm.DB, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{db: db, log: log}
}

// Connect opens the database, retrying with exponential backoff until
// ConnectTimeout elapses
func Connect(c Config, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	cfg := &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
	var db *gorm.DB
	op := func() error {
		var err error
		db, err = gorm.Open(postgres.Open(c.DSN()), cfg)
		if err != nil {
			log.WithFields(logrus.Fields{"host": c.Host, "err": err}).Debug("database connect failed, retrying")
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.1,
		Multiplier:          2.,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      c.ConnectTimeout,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("connecting to database %s on %s: %w", c.DBName, c.Host, err)
	}
	if c.Migrate {
		if err := db.AutoMigrate(&Visit{}, &Exposure{}, &Data{}); err != nil {
			return nil, fmt.Errorf("migrating spot tables: %w", err)
		}
	}
	log.WithFields(logrus.Fields{"host": c.Host, "db": c.DBName}).Info("connected to spot database")
	return New(db, log), nil
}

func insertVisit(db *gorm.DB, visit int) *gorm.DB {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&Visit{PfsVisitID: visit})
}

func insertExposure(db *gorm.DB, rec agcc.SpotRecord) *gorm.DB {
	e := Exposure{
		AgcExposureID: rec.FrameID,
		PfsVisitID:    rec.Visit,
		ExposureTime:  rec.ExposureTime.Seconds(),
		TakenAt:       rec.Taken.UTC(),
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&e)
}

func insertBatch(db *gorm.DB, batch []Data) *gorm.DB {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch)
}

// insertData writes data BatchSize rows per statement
func insertData(db *gorm.DB, data []Data) error {
	for len(data) > 0 {
		n := len(data)
		if n > BatchSize {
			n = BatchSize
		}
		if err := insertBatch(db, data[:n]).Error; err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// InsertVisit records a visit
func (s *Store) InsertVisit(visit int) error {
	if err := insertVisit(s.db, visit).Error; err != nil {
		return fmt.Errorf("inserting visit %d: %w", visit, err)
	}
	return nil
}

// WriteSpots records the exposure and bulk inserts its spots in one transaction
func (s *Store) WriteSpots(rec agcc.SpotRecord) error {
	data := rows(rec)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := insertExposure(tx, rec).Error; err != nil {
			return err
		}
		return insertData(tx, data)
	})
	if err != nil {
		return fmt.Errorf("writing spots of frame %d camera %d: %w", rec.FrameID, rec.Camera+1, err)
	}
	s.log.WithFields(logrus.Fields{"frame": rec.FrameID, "cam": rec.Camera + 1, "spots": len(data)}).Debug("spots written")
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
