package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/tracker-closure/internal/models"
	"github.com/noah-isme/tracker-closure/pkg/export"
	"github.com/noah-isme/tracker-closure/pkg/storage"
)

const conflictComment = "COMPLETED WITHOUT CLOSURE"

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
}

// ReportSaveOptions describes the pre-submission report.
type ReportSaveOptions struct {
	OutputPath string
	ProgramID  string
	Entities   []models.TrackedEntity
	Conflicts  []models.TrackedEntity
}

// ReportExportService renders closure reports and writes them to storage.
type ReportExportService struct {
	storage  fileStorage
	renderer export.Renderer
	logger   *zap.Logger
}

// NewReportExportService constructs a ReportExportService. A nil renderer
// falls back to CSV.
func NewReportExportService(store fileStorage, renderer export.Renderer, logger *zap.Logger) *ReportExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewCSVRenderer()
	}
	return &ReportExportService{storage: store, renderer: renderer, logger: logger}
}

// Save writes one row per candidate: READY for eligible entities and CONFLICT
// for completed enrollments that lack a closure event.
func (s *ReportExportService) Save(ctx context.Context, opts ReportSaveOptions) (string, error) {
	table := export.Table{
		Title:   "Lost to follow-up closure",
		Headers: []string{"Program ID", "Tracked Entity ID", "Org Unit ID", "Status", "Comments"},
	}
	for _, entity := range opts.Entities {
		table.AddRow(opts.ProgramID, entity.TrackedEntity, entityOrgUnit(entity), "READY", "")
	}
	for _, entity := range opts.Conflicts {
		table.AddRow(opts.ProgramID, entity.TrackedEntity, entityOrgUnit(entity), "CONFLICT", conflictComment)
	}
	return s.write(ctx, opts.OutputPath, "", table)
}

// SaveStats writes the import summary next to outputPath with a -stats suffix.
func (s *ReportExportService) SaveStats(ctx context.Context, outputPath string, result *models.SaveResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("save stats report: missing result")
	}
	table := export.Table{
		Title:   "Closure import summary",
		Headers: []string{"Tracker Type", "Created", "Updated", "Deleted", "Ignored", "Total", "UID", "Error Codes", "Messages"},
	}
	var objects [][]string
	if result.BundleReport != nil {
		for _, trackerType := range models.TrackerTypes {
			report, ok := result.BundleReport.TypeReportMap[trackerType]
			if !ok {
				continue
			}
			table.AddRow(append([]string{string(trackerType)}, statsCells(report.Stats)...)...)
			for _, object := range report.ObjectReports {
				codes, messages := "", ""
				for i, er := range object.ErrorReports {
					if i > 0 {
						codes += "; "
						messages += "; "
					}
					codes += er.Code()
					messages += er.Message
				}
				objects = append(objects, []string{string(object.TrackerType), "", "", "", "", "", object.UID, codes, messages})
			}
		}
	}
	table.AddRow(append([]string{"TOTAL"}, statsCells(result.Stats)...)...)
	for _, row := range objects {
		table.AddRow(row...)
	}
	return s.write(ctx, outputPath, "-stats", table)
}

// SaveErrors writes the rejected objects of a failed submission with an
// -errors suffix.
func (s *ReportExportService) SaveErrors(ctx context.Context, outputPath string, payload models.ClosurePayload, verr *models.ValidationError) (string, error) {
	if verr == nil {
		return "", fmt.Errorf("save errors report: missing validation error")
	}
	byEnrollment := make(map[string]models.Enrollment, len(payload.Enrollments))
	for _, enrollment := range payload.Enrollments {
		byEnrollment[enrollment.Enrollment] = enrollment
	}

	table := export.Table{
		Title:   "Closure import errors",
		Headers: []string{"Tracked Entity ID", "Program ID", "Org Unit ID", "UID", "Tracker Type", "Type", "Code", "Message"},
	}
	add := func(kind string, report models.ErrorReport) {
		enrollment := byEnrollment[report.UID]
		table.AddRow(enrollment.TrackedEntity, enrollment.Program, enrollment.OrgUnit,
			report.UID, string(report.TrackerType), kind, report.Code(), report.Message)
	}
	for _, report := range verr.Reports {
		add("ERROR", report)
	}
	for _, report := range verr.Warnings {
		add("WARNING", report)
	}
	if len(verr.Reports) == 0 && len(verr.Warnings) == 0 {
		table.AddRow("", "", "", "", "", "ERROR", "", verr.Error())
	}
	return s.write(ctx, outputPath, "-errors", table)
}

func (s *ReportExportService) write(ctx context.Context, outputPath, suffix string, table export.Table) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if outputPath == "" {
		return "", fmt.Errorf("report output path is empty")
	}
	data, err := s.renderer.Render(table)
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	path, err := s.storage.Save(storage.WithSuffix(outputPath, suffix, s.renderer.Extension()), data)
	if err != nil {
		return "", err
	}
	s.logger.Debug("report written", zap.String("path", path), zap.Int("rows", len(table.Rows)))
	return path, nil
}

func statsCells(stats models.Stats) []string {
	return []string{
		strconv.Itoa(stats.Created),
		strconv.Itoa(stats.Updated),
		strconv.Itoa(stats.Deleted),
		strconv.Itoa(stats.Ignored),
		strconv.Itoa(stats.Total),
	}
}

func entityOrgUnit(entity models.TrackedEntity) string {
	if enrollment, ok := entity.FirstEnrollment(); ok && enrollment.OrgUnit != "" {
		return enrollment.OrgUnit
	}
	return entity.OrgUnit
}
