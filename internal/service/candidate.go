package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/sadewadee/leadscope/internal/domain"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// CandidateService provides lead triage queries and exports
type CandidateService struct {
	candidates domain.CandidateRepository
}

// NewCandidateService creates a new service
func NewCandidateService(candidates domain.CandidateRepository) *CandidateService {
	return &CandidateService{candidates: candidates}
}

// List retrieves candidates with filters and pagination
func (s *CandidateService) List(ctx context.Context, params domain.CandidateListParams) ([]*domain.Candidate, int, error) {
	return s.candidates.List(ctx, params)
}

// GetByID retrieves a single candidate with its evidence
func (s *CandidateService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Candidate, error) {
	c, err := s.candidates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrCandidateNotFound
	}
	return c, nil
}

// Columns lists the export columns in order
func (s *CandidateService) Columns() []string {
	return []string{
		"id",
		"name",
		"phone",
		"address",
		"locality",
		"latitude",
		"longitude",
		"category",
		"website",
		"website_source",
		"status",
		"confidence",
		"low_confidence",
		"rating",
		"review_count",
		"external_id",
	}
}

// Export streams a strategy's candidates in the given format
func (s *CandidateService) Export(ctx context.Context, w io.Writer, strategyID uuid.UUID, format string) error {
	switch format {
	case FormatCSV:
		return s.ExportCSV(ctx, w, strategyID)
	case FormatXLSX:
		return s.ExportXLSX(ctx, w, strategyID)
	case FormatJSON, "":
		return s.ExportJSON(ctx, w, strategyID)
	default:
		return eris.Errorf("service: unsupported export format %q", format)
	}
}

// ExportCSV exports candidates to CSV format
func (s *CandidateService) ExportCSV(ctx context.Context, w io.Writer, strategyID uuid.UUID) error {
	columns := s.Columns()

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	if err := csvWriter.Write(columns); err != nil {
		return eris.Wrap(err, "write csv header")
	}

	return s.candidates.StreamByStrategy(ctx, strategyID, func(c *domain.Candidate) error {
		return csvWriter.Write(candidateRow(c, columns))
	})
}

// ExportJSON exports candidates as a JSON array, one element at a time
func (s *CandidateService) ExportJSON(ctx context.Context, w io.Writer, strategyID uuid.UUID) error {
	if _, err := w.Write([]byte("[\n")); err != nil {
		return err
	}

	first := true
	err := s.candidates.StreamByStrategy(ctx, strategyID, func(c *domain.Candidate) error {
		if !first {
			if _, err := w.Write([]byte(",\n")); err != nil {
				return err
			}
		}
		first = false
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return err
	}

	_, err = w.Write([]byte("\n]"))
	return err
}

// ExportXLSX exports candidates to an XLSX workbook
func (s *CandidateService) ExportXLSX(ctx context.Context, w io.Writer, strategyID uuid.UUID) error {
	columns := s.Columns()

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Candidates"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return eris.Wrap(err, "rename xlsx sheet")
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return eris.Wrap(err, "create xlsx stream")
	}

	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	if err := sw.SetRow("A1", header); err != nil {
		return eris.Wrap(err, "write xlsx header")
	}

	row := 2
	err = s.candidates.StreamByStrategy(ctx, strategyID, func(c *domain.Candidate) error {
		values := candidateRow(c, columns)
		cells := make([]any, len(values))
		for i, v := range values {
			cells[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		row++
		return sw.SetRow(cell, cells)
	})
	if err != nil {
		return err
	}

	if err := sw.Flush(); err != nil {
		return eris.Wrap(err, "flush xlsx stream")
	}
	return f.Write(w)
}

func candidateRow(c *domain.Candidate, columns []string) []string {
	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = columnValue(c, col)
	}
	return row
}

func columnValue(c *domain.Candidate, column string) string {
	switch column {
	case "id":
		return c.ID.String()
	case "name":
		return c.Name
	case "phone":
		return c.Phone
	case "address":
		return c.Address
	case "locality":
		return c.Locality
	case "latitude":
		return fmt.Sprintf("%f", c.Lat)
	case "longitude":
		return fmt.Sprintf("%f", c.Lon)
	case "category":
		return c.Category
	case "website":
		return c.Website()
	case "website_source":
		return string(c.WebsiteSource)
	case "status":
		return string(c.Status)
	case "confidence":
		if c.Confidence != nil {
			return fmt.Sprintf("%.2f", *c.Confidence)
		}
	case "low_confidence":
		return strconv.FormatBool(c.LowConfidence)
	case "rating":
		if c.Rating > 0 {
			return fmt.Sprintf("%.1f", c.Rating)
		}
	case "review_count":
		return strconv.Itoa(c.ReviewCount)
	case "external_id":
		return c.ExternalID
	}
	return ""
}

// ParseFormat normalises a requested export format
func ParseFormat(s string) (string, bool) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatJSON:
		return FormatJSON, true
	case FormatCSV, FormatXLSX:
		return f, true
	default:
		return "", false
	}
}
