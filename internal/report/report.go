package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"demandline/internal/aggregate"
	"demandline/internal/domain"
	"demandline/internal/identity"
	"demandline/internal/metrics"
)

// ErrReportGeneration wraps every failure to build an export.
var ErrReportGeneration = errors.New("report generation failed")

type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

func (f Format) extension() string { return string(f) }

func (f Format) contentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

type Detail string

const (
	DetailComplete Detail = "complete"
	DetailSummary  Detail = "summary"
)

type Request struct {
	Format  Format
	Detail  Detail
	Demands []domain.Demand
	// AssigneeFilter holds the display names the caller filtered on; it
	// only shapes the filename.
	AssigneeFilter []string
	Start, End     *time.Time
}

type Report struct {
	Payload     []byte
	Filename    string
	ContentType string
}

type Generator struct {
	Registry *identity.Registry
	Title    string
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Generator) title() string {
	if g.Title != "" {
		return g.Title
	}
	return "Demand Report"
}

// line is one demand with its assignee resolved.
type line struct {
	domain.Demand
	Assignee string
}

// view is the data both formats render, so their totals always agree.
type view struct {
	Title      string
	Start, End *time.Time
	Lines      []line
	Overall    aggregate.Metrics
	ByType     []aggregate.Row
}

func (g Generator) buildView(req Request) (view, error) {
	v := view{
		Title:   g.title(),
		Start:   req.Start,
		End:     req.End,
		Overall: aggregate.Overall(req.Demands),
		ByType:  aggregate.PerType(req.Demands),
	}
	for _, d := range req.Demands {
		name, err := g.Registry.Resolve(d.AssigneeID)
		if err != nil {
			return v, fmt.Errorf("%w: demand %d: %v", ErrReportGeneration, d.ID, err)
		}
		v.Lines = append(v.Lines, line{Demand: d, Assignee: name})
	}
	return v, nil
}

// Generate renders req into a downloadable payload.
func (g Generator) Generate(req Request) (Report, error) {
	if g.Registry == nil {
		return Report{}, fmt.Errorf("%w: identity registry not loaded", ErrReportGeneration)
	}
	if req.Detail != DetailComplete && req.Detail != DetailSummary {
		return Report{}, fmt.Errorf("%w: unknown detail %q", ErrReportGeneration, req.Detail)
	}
	v, err := g.buildView(req)
	if err != nil {
		return Report{}, err
	}
	var payload []byte
	switch req.Format {
	case FormatCSV:
		payload, err = renderCSV(v, req.Detail)
	case FormatPDF:
		payload, err = renderPDF(v, req.Detail, g.now())
	default:
		return Report{}, fmt.Errorf("%w: unknown format %q", ErrReportGeneration, req.Format)
	}
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrReportGeneration, err)
	}
	g.Metrics.Report(string(req.Format), string(req.Detail))
	return Report{
		Payload:     payload,
		Filename:    Filename(req.AssigneeFilter, g.now(), req.Format),
		ContentType: req.Format.contentType(),
	}, nil
}

// Filename follows relatorio_demandas_<filter>_<dd-mm-yyyy_HH-MM>.<ext>.
func Filename(assignees []string, at time.Time, f Format) string {
	filter := "all"
	if len(assignees) > 0 {
		filter = strings.Join(assignees, "_")
	}
	return fmt.Sprintf("relatorio_demandas_%s_%s.%s", filter, at.Format("02-01-2006_15-04"), f.extension())
}

const (
	dateTimeLayout = "02/01/2006 15:04"
	dateLayout     = "02/01/2006"
)

func periodText(start, end *time.Time) string {
	if start == nil || end == nil {
		return "Period: all dates"
	}
	return fmt.Sprintf("Period: %s to %s", start.Format(dateLayout), end.Format(dateLayout))
}
