package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"speedtrap-service/internal/domain/violation"
	"speedtrap-service/internal/repository"
	"speedtrap-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	defaultTopN     = 5
)

type ViolationService struct {
	repo *repository.ViolationRepository
	log  zerolog.Logger
}

func NewViolationService(repo *repository.ViolationRepository, log zerolog.Logger) *ViolationService {
	return &ViolationService{
		repo: repo,
		log:  log,
	}
}

// RecordViolation persists a violation emitted by the frame processor and
// returns the id assigned by the store.
func (s *ViolationService) RecordViolation(ctx context.Context, record violation.Record) (uuid.UUID, error) {
	normalized := utils.NormalizePlate(record.LicensePlate)
	if normalized == "" {
		return uuid.Nil, fmt.Errorf("%w: license plate is required", ErrInvalidInput)
	}
	if record.Speed <= 0 {
		return uuid.Nil, fmt.Errorf("%w: speed must be positive", ErrInvalidInput)
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	record.LicensePlate = normalized
	record.Timestamp = record.Timestamp.UTC()

	if err := s.repo.Create(ctx, &record); err != nil {
		s.log.Error().
			Err(err).
			Str("plate", normalized).
			Float64("speed", record.Speed).
			Msg("failed to create violation")
		return uuid.Nil, fmt.Errorf("failed to create violation: %w", err)
	}

	s.log.Info().
		Str("violation_id", record.ID.String()).
		Str("plate", normalized).
		Float64("speed", record.Speed).
		Float64("speed_limit", record.SpeedLimit).
		Str("location", record.Location).
		Time("timestamp", record.Timestamp).
		Msg("saved violation to database")

	return record.ID, nil
}

func (s *ViolationService) FindViolations(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]ViolationInfo, error) {
	filter, err := buildFilter(plateQuery, from, to)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	filter.Limit = limit
	filter.Offset = offset

	rows, err := s.repo.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find violations: %w", err)
	}
	return toInfos(rows), nil
}

func (s *ViolationService) FindByPlate(ctx context.Context, plateQuery string) ([]ViolationInfo, error) {
	normalized := utils.NormalizePlate(plateQuery)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
	}

	rows, err := s.repo.FindByPlate(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find violations for plate: %w", err)
	}
	return toInfos(rows), nil
}

func (s *ViolationService) GetViolation(ctx context.Context, rawID string) (*ViolationInfo, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid violation id", ErrInvalidInput)
	}

	row, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: violation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}

	info := toInfo(*row)
	return &info, nil
}

func (s *ViolationService) DeleteViolation(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("%w: invalid violation id", ErrInvalidInput)
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("violation_id", id.String()).Msg("failed to delete violation")
		return fmt.Errorf("failed to delete violation: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: violation %s", ErrNotFound, id)
	}

	s.log.Info().Str("violation_id", id.String()).Msg("violation deleted")
	return nil
}

func (s *ViolationService) Stats(ctx context.Context, topN int) (*violation.Stats, error) {
	if topN <= 0 {
		topN = defaultTopN
	}
	stats, err := s.repo.Stats(ctx, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return stats, nil
}

// CleanupOldViolations удаляет нарушения старше указанного количества дней
func (s *ViolationService) CleanupOldViolations(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive", ErrInvalidInput)
	}
	deleted, err := s.repo.DeleteOlderThan(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old violations")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old violations")
	}
	return deleted, nil
}

func buildFilter(plateQuery *string, from, to *string) (violation.Filter, error) {
	var filter violation.Filter
	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			filter.Plate = &normalized
		}
	}

	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		t = t.UTC()
		filter.From = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		t = t.UTC()
		filter.To = &t
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, fmt.Errorf("%w: to is before from", ErrInvalidInput)
	}
	return filter, nil
}

type ViolationInfo struct {
	ID           string            `json:"id"`
	LicensePlate string            `json:"license_plate"`
	Speed        float64           `json:"speed"`
	SpeedLimit   float64           `json:"speed_limit"`
	OverBy       float64           `json:"over_by"`
	Timestamp    time.Time         `json:"timestamp"`
	Location     string            `json:"location"`
	ImagePath    *string           `json:"image_path,omitempty"`
	Details      violation.Details `json:"details"`
}

func toInfo(row repository.Violation) ViolationInfo {
	rec := row.ToRecord()
	return ViolationInfo{
		ID:           rec.ID.String(),
		LicensePlate: rec.LicensePlate,
		Speed:        rec.Speed,
		SpeedLimit:   rec.SpeedLimit,
		OverBy:       rec.OverBy(),
		Timestamp:    rec.Timestamp,
		Location:     rec.Location,
		ImagePath:    row.ImagePath,
		Details:      rec.Details,
	}
}

func toInfos(rows []repository.Violation) []ViolationInfo {
	result := make([]ViolationInfo, 0, len(rows))
	for _, row := range rows {
		result = append(result, toInfo(row))
	}
	return result
}
