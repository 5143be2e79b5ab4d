package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Violations"

var exportHeader = []interface{}{
	"ID", "License plate", "Speed (km/h)", "Limit (km/h)", "Over by (km/h)", "Time (UTC)", "Location", "Image", "Track", "Frame",
}

// ExportXLSX writes the violations matching the filter as an Excel workbook.
func (s *ViolationService) ExportXLSX(ctx context.Context, w io.Writer, plateQuery *string, from, to *string) (int, error) {
	filter, err := buildFilter(plateQuery, from, to)
	if err != nil {
		return 0, err
	}

	rows, err := s.repo.FindAll(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to load violations for export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		info := toInfo(row)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		values := []interface{}{
			info.ID,
			info.LicensePlate,
			roundSpeed(info.Speed),
			roundSpeed(info.SpeedLimit),
			roundSpeed(info.OverBy),
			info.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			info.Location,
			formatImagePath(info.ImagePath),
			info.Details.TrackID,
			info.Details.FrameNumber,
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.SetColWidth(exportSheet, "A", "A", 38); err != nil {
		return 0, err
	}
	if err := f.SetColWidth(exportSheet, "B", "H", 16); err != nil {
		return 0, err
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return len(rows), nil
}

func roundSpeed(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatImagePath(path *string) string {
	if path == nil {
		return ""
	}
	return strings.TrimSpace(*path)
}
