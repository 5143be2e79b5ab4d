package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"speedtrap-service/internal/domain/violation"
)

const maxPageSize = 100

type ViolationRepository struct {
	db *gorm.DB
}

func NewViolationRepository(db *gorm.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

func (Violation) TableName() string {
	return "violations"
}

type Violation struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	LicensePlate string    `gorm:"not null;index"`
	Speed        float64   `gorm:"not null"`
	SpeedLimit   float64   `gorm:"not null"`
	Timestamp    time.Time `gorm:"not null;index"`
	Location     string    `gorm:"not null"`
	ImagePath    *string
	Details      datatypes.JSON
	CreatedAt    time.Time
}

// ToRecord converts the row into the domain record. Malformed details are
// left zero.
func (v Violation) ToRecord() violation.Record {
	rec := violation.Record{
		ID:           v.ID,
		LicensePlate: v.LicensePlate,
		Speed:        v.Speed,
		SpeedLimit:   v.SpeedLimit,
		Timestamp:    v.Timestamp,
		Location:     v.Location,
	}
	if v.ImagePath != nil {
		rec.ImagePath = *v.ImagePath
	}
	if len(v.Details) > 0 {
		_ = json.Unmarshal(v.Details, &rec.Details)
	}
	return rec
}

func (r *ViolationRepository) Create(ctx context.Context, rec *violation.Record) error {
	row := Violation{
		ID:           uuid.New(),
		LicensePlate: rec.LicensePlate,
		Speed:        rec.Speed,
		SpeedLimit:   rec.SpeedLimit,
		Timestamp:    rec.Timestamp,
		Location:     rec.Location,
		CreatedAt:    time.Now().UTC(),
	}
	if rec.ImagePath != "" {
		row.ImagePath = &rec.ImagePath
	}

	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal violation details: %w", err)
	}
	row.Details = datatypes.JSON(details)

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create violation in database: %w", err)
	}

	rec.ID = row.ID
	return nil
}

func (r *ViolationRepository) GetByID(ctx context.Context, id uuid.UUID) (*Violation, error) {
	var row Violation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Find returns violations newest first. Limit is capped at 100.
func (r *ViolationRepository) Find(ctx context.Context, filter violation.Filter) ([]Violation, error) {
	query := applyFilter(r.db.WithContext(ctx).Model(&Violation{}), filter).
		Order("timestamp DESC")

	if filter.Limit > 0 {
		limit := filter.Limit
		if limit > maxPageSize {
			limit = maxPageSize
		}
		query = query.Limit(limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []Violation
	err := query.Find(&rows).Error
	return rows, err
}

// FindAll is Find without the page size cap, used for exports.
func (r *ViolationRepository) FindAll(ctx context.Context, filter violation.Filter) ([]Violation, error) {
	query := applyFilter(r.db.WithContext(ctx).Model(&Violation{}), filter)

	var rows []Violation
	err := query.Order("timestamp DESC").Find(&rows).Error
	return rows, err
}

func applyFilter(query *gorm.DB, filter violation.Filter) *gorm.DB {
	if filter.Plate != nil {
		query = query.Where("license_plate = ?", *filter.Plate)
	}
	if filter.From != nil {
		query = query.Where("timestamp >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("timestamp <= ?", *filter.To)
	}
	return query
}

func (r *ViolationRepository) FindByPlate(ctx context.Context, plate string) ([]Violation, error) {
	var rows []Violation
	err := r.db.WithContext(ctx).
		Where("license_plate = ?", plate).
		Order("timestamp DESC").
		Find(&rows).Error
	return rows, err
}

// Delete removes a violation. It reports false when no row matched.
func (r *ViolationRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Violation{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

type aggregateRow struct {
	AverageSpeed float64
	AverageOver  float64
	MaxSpeed     float64
}

func (r *ViolationRepository) Stats(ctx context.Context, topN int) (*violation.Stats, error) {
	stats := &violation.Stats{TopOffenders: []violation.Offender{}}
	base := r.db.WithContext(ctx).Model(&Violation{})

	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}
	if stats.Total == 0 {
		return stats, nil
	}

	if err := base.Session(&gorm.Session{}).Distinct("license_plate").Count(&stats.UniquePlates).Error; err != nil {
		return nil, fmt.Errorf("count plates: %w", err)
	}

	var agg aggregateRow
	err := base.Session(&gorm.Session{}).
		Select("COALESCE(AVG(speed), 0) AS average_speed, " +
			"COALESCE(AVG(speed - speed_limit), 0) AS average_over, " +
			"COALESCE(MAX(speed), 0) AS max_speed").
		Scan(&agg).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate violations: %w", err)
	}
	stats.AverageSpeed = agg.AverageSpeed
	stats.AverageOver = agg.AverageOver
	stats.MaxSpeed = agg.MaxSpeed

	if topN > 0 {
		err = base.Session(&gorm.Session{}).
			Select("license_plate, COUNT(*) AS count").
			Group("license_plate").
			Order("count DESC, license_plate ASC").
			Limit(topN).
			Scan(&stats.TopOffenders).Error
		if err != nil {
			return nil, fmt.Errorf("top offenders: %w", err)
		}
	}

	return stats, nil
}

// DeleteOlderThan removes violations recorded more than days ago.
func (r *ViolationRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result := r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&Violation{})

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
