package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetReportData(ctx context.Context, publicID string) (ReportData, error)
}

// ReportData holds everything the report template needs.
type ReportData struct {
	PublicID      string
	MeetingNumber int
	Clause        string
	Subclause     string
	Kind          string
	Status        string
	Body          string
	Progress      int
	Creator       string
	Executor      string
	UpdatedAt     time.Time
	Log           []LogEntry
}

// Service provides resolution report export
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	report, err := s.store.GetReportData(ctx, req.PublicID)
	if err != nil {
		return nil, fmt.Errorf("get report data: %w", err)
	}

	data := TemplateData{
		PublicID:      report.PublicID,
		MeetingNumber: report.MeetingNumber,
		Clause:        report.Clause,
		Subclause:     report.Subclause,
		Kind:          report.Kind,
		Status:        report.Status,
		Body:          report.Body,
		Progress:      report.Progress,
		Creator:       report.Creator,
		Executor:      report.Executor,
		UpdatedAt:     report.UpdatedAt,
	}
	if req.IncludeLog {
		data.Log = report.Log
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := fmt.Sprintf("resolution-%s", report.PublicID)
	switch req.Format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
