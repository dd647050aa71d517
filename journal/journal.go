// Package journal keeps a SQLite record of training runs, their epochs and
// the int8 conversions made from them. A nil *Journal records nothing.
package journal

import "time"

import "github.com/google/uuid"
import "github.com/pkg/errors"
import "github.com/sirupsen/logrus"
import "gorm.io/driver/sqlite"
import "gorm.io/gorm"
import "gorm.io/gorm/logger"

// Run states.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

type Run struct {
	gorm.Model
	UUID        string     `json:"uuid" gorm:"uniqueIndex"`
	Images      string     `json:"images"`
	Annotations string     `json:"annotations"`
	Output      string     `json:"output"`
	Config      string     `json:"config"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	History     []Epoch    `json:"history" gorm:"foreignKey:RunID"`
}

type Epoch struct {
	gorm.Model
	RunID             uint    `json:"run_id" gorm:"index"`
	Number            int     `json:"number"`
	PersonLoss        float64 `json:"person_loss"`
	CarLoss           float64 `json:"car_loss"`
	PersonAccuracy    float64 `json:"person_accuracy"`
	CarAccuracy       float64 `json:"car_accuracy"`
	Validated         bool    `json:"validated"`
	ValLoss           float64 `json:"val_loss"`
	ValPersonAccuracy float64 `json:"val_person_accuracy"`
	ValCarAccuracy    float64 `json:"val_car_accuracy"`
	ImagesPerSec      float64 `json:"images_per_sec"`
	DurationMS        int64   `json:"duration_ms"`
}

type Conversion struct {
	gorm.Model
	UUID    string `json:"uuid" gorm:"uniqueIndex"`
	Source  string `json:"source"`
	Output  string `json:"output"`
	Samples int    `json:"samples"`
	Tensors int    `json:"tensors"`
	Ops     int    `json:"ops"`
	Digest  string `json:"digest"`
}

// Journal is an open journal database.
type Journal struct {
	db *gorm.DB
}

// Open opens or creates the journal at path. An empty path disables the
// journal and returns nil.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, nil
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	if err := db.AutoMigrate(&Run{}, &Epoch{}, &Conversion{}); err != nil {
		return nil, errors.Wrap(err, "migrate journal")
	}
	logrus.WithField("path", path).Debug("journal opened")
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun stores r as a running run and assigns its UUID.
func (j *Journal) StartRun(r *Run) error {
	if j == nil {
		return nil
	}
	r.UUID = uuid.NewString()
	r.Status = StatusRunning
	return errors.Wrap(j.db.Create(r).Error, "start run")
}

// RecordEpoch appends e to the history of r.
func (j *Journal) RecordEpoch(r *Run, e *Epoch) error {
	if j == nil {
		return nil
	}
	e.RunID = r.ID
	if err := j.db.Create(e).Error; err != nil {
		return errors.Wrap(err, "record epoch")
	}
	r.History = append(r.History, *e)
	return nil
}

// FinishRun marks r finished, or failed when cause is not nil.
func (j *Journal) FinishRun(r *Run, cause error) error {
	if j == nil {
		return nil
	}
	now := time.Now()
	r.FinishedAt = &now
	r.Status = StatusFinished
	if cause != nil {
		r.Status = StatusFailed
		r.Error = cause.Error()
	}
	return errors.Wrap(j.db.Model(r).Updates(map[string]interface{}{
		"status":      r.Status,
		"error":       r.Error,
		"finished_at": r.FinishedAt,
	}).Error, "finish run")
}

// RecordConversion stores c and assigns its UUID.
func (j *Journal) RecordConversion(c *Conversion) error {
	if j == nil {
		return nil
	}
	c.UUID = uuid.NewString()
	return errors.Wrap(j.db.Create(c).Error, "record conversion")
}

// Runs returns every run with its epoch history, oldest first.
func (j *Journal) Runs() ([]Run, error) {
	if j == nil {
		return nil, nil
	}
	var runs []Run
	err := j.db.Preload("History", func(db *gorm.DB) *gorm.DB {
		return db.Order("number")
	}).Order("id").Find(&runs).Error
	return runs, errors.Wrap(err, "list runs")
}

// Conversions returns every recorded conversion, oldest first.
func (j *Journal) Conversions() ([]Conversion, error) {
	if j == nil {
		return nil, nil
	}
	var cs []Conversion
	err := j.db.Order("id").Find(&cs).Error
	return cs, errors.Wrap(err, "list conversions")
}
