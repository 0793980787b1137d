package app

import (
	"context"

	"quorum/api/internal/export"
)

// reportSource feeds the report renderer from the resolution store.
type reportSource struct {
	store dataStore
}

func (r reportSource) GetReportData(ctx context.Context, publicID string) (export.ReportData, error) {
	item, err := r.store.GetResolutionByPublicID(ctx, publicID)
	if err != nil {
		return export.ReportData{}, err
	}
	entries, err := r.store.ListInteractions(ctx, item.ID)
	if err != nil {
		return export.ReportData{}, err
	}

	logEntries := make([]export.LogEntry, 0, len(entries))
	for _, entry := range entries {
		logEntries = append(logEntries, export.LogEntry{
			Kind:       entry.Kind,
			ActionType: entry.ActionType,
			Author:     entry.AuthorName,
			Body:       entry.Body,
			Progress:   entry.Progress,
			CreatedAt:  entry.CreatedAt,
		})
	}

	return export.ReportData{
		PublicID:      item.PublicID,
		MeetingNumber: item.MeetingNumber,
		Clause:        item.Clause,
		Subclause:     item.Subclause,
		Kind:          string(item.Kind),
		Status:        string(item.Status),
		Body:          item.Text,
		Progress:      item.Progress,
		Creator:       item.CreatorName,
		Executor:      item.ExecutorName,
		UpdatedAt:     item.UpdatedAt,
		Log:           logEntries,
	}, nil
}

// ExportReport renders the resolution report after the usual view check.
func (s *Service) ExportReport(ctx context.Context, session Session, publicID string, format export.Format, includeLog bool) (*export.Result, error) {
	if _, err := s.loadViewable(ctx, session, publicID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		PublicID:   publicID,
		Format:     format,
		IncludeLog: includeLog,
	})
}
