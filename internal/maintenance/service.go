// Package maintenance keeps the catalog and object storage consistent with
// each other.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmesh/sqlpilot/internal/catalog"
	"github.com/duckmesh/sqlpilot/internal/storage"
)

const maxIssueSamples = 20

type Catalog interface {
	ListTables(ctx context.Context, tenantID string) ([]catalog.TableDef, error)
	ListTableFiles(ctx context.Context, tenantID string, tableID int64) ([]catalog.DataFile, error)
}

type Service struct {
	Catalog     Catalog
	ObjectStore storage.ObjectStore
	Logger      *slog.Logger
	// OrphanGrace keeps recently written objects out of a sweep, since a
	// load uploads before it registers.
	OrphanGrace time.Duration
	Clock       func() time.Time
}

type IntegritySummary struct {
	TablesScanned       int `json:"tables_scanned"`
	FilesChecked        int `json:"files_checked"`
	MissingFiles        int `json:"missing_files"`
	SizeMismatchFiles   int `json:"size_mismatch_files"`
	OperationalFailures int `json:"operational_failures"`
}

type SweepSummary struct {
	TablesScanned  int      `json:"tables_scanned"`
	ObjectsListed  int      `json:"objects_listed"`
	OrphanObjects  []string `json:"orphan_objects"`
	ObjectsDeleted int      `json:"objects_deleted"`
	Failures       int      `json:"failures"`
}

// CheckIntegrity stats every file the catalog registers for the tenant and
// reports files that are missing or whose size differs.
func (s *Service) CheckIntegrity(ctx context.Context, tenantID string) (IntegritySummary, error) {
	if err := s.validate(); err != nil {
		return IntegritySummary{}, err
	}
	tables, err := s.Catalog.ListTables(ctx, tenantID)
	if err != nil {
		return IntegritySummary{}, fmt.Errorf("list tables: %w", err)
	}

	summary := IntegritySummary{TablesScanned: len(tables)}
	issues := newIssueLog()
	for _, table := range tables {
		files, err := s.Catalog.ListTableFiles(ctx, tenantID, table.TableID)
		if err != nil {
			summary.OperationalFailures++
			issues.add(fmt.Sprintf("table %s list files: %v", table.QualifiedName(), err))
			continue
		}
		for _, file := range files {
			summary.FilesChecked++
			info, err := s.ObjectStore.Stat(ctx, file.Path)
			if errors.Is(err, storage.ErrObjectNotFound) {
				summary.MissingFiles++
				issues.add(fmt.Sprintf("table %s missing file %s (file_id=%d)", table.QualifiedName(), file.Path, file.FileID))
				continue
			}
			if err != nil {
				summary.OperationalFailures++
				issues.add(fmt.Sprintf("table %s stat file %s: %v", table.QualifiedName(), file.Path, err))
				continue
			}
			if info.Size != file.FileSizeBytes {
				summary.SizeMismatchFiles++
				issues.add(fmt.Sprintf("table %s size mismatch for %s (expected=%d actual=%d)", table.QualifiedName(), file.Path, file.FileSizeBytes, info.Size))
			}
		}
	}

	integrityFilesCheckedTotal.Add(float64(summary.FilesChecked))
	integrityMissingFilesTotal.Add(float64(summary.MissingFiles))
	integritySizeMismatchFilesTotal.Add(float64(summary.SizeMismatchFiles))
	if issues.count > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return summary, issues.err("integrity check")
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	s.logger().InfoContext(ctx, "integrity check completed",
		slog.String("tenant_id", tenantID),
		slog.Int("tables_scanned", summary.TablesScanned),
		slog.Int("files_checked", summary.FilesChecked),
	)
	return summary, nil
}

// SweepOrphans finds objects under each catalog table's prefix that no
// registered file points at. Unless dryRun is set they are deleted. Objects
// younger than OrphanGrace are skipped.
func (s *Service) SweepOrphans(ctx context.Context, tenantID string, dryRun bool) (SweepSummary, error) {
	if err := s.validate(); err != nil {
		return SweepSummary{}, err
	}
	tables, err := s.Catalog.ListTables(ctx, tenantID)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("list tables: %w", err)
	}

	cutoff := s.now().Add(-s.OrphanGrace)
	summary := SweepSummary{TablesScanned: len(tables), OrphanObjects: []string{}}
	issues := newIssueLog()
	for _, table := range tables {
		prefix, err := storage.BuildTablePrefix(tenantID, table.Dataset, table.Name)
		if err != nil {
			summary.Failures++
			issues.add(fmt.Sprintf("table %s prefix: %v", table.QualifiedName(), err))
			continue
		}
		files, err := s.Catalog.ListTableFiles(ctx, tenantID, table.TableID)
		if err != nil {
			summary.Failures++
			issues.add(fmt.Sprintf("table %s list files: %v", table.QualifiedName(), err))
			continue
		}
		registered := make(map[string]struct{}, len(files))
		for _, file := range files {
			registered[file.Path] = struct{}{}
		}

		objects, err := s.ObjectStore.List(ctx, prefix)
		if err != nil {
			summary.Failures++
			issues.add(fmt.Sprintf("table %s list objects: %v", table.QualifiedName(), err))
			continue
		}
		summary.ObjectsListed += len(objects)
		for _, object := range objects {
			if _, ok := registered[object.Key]; ok {
				continue
			}
			if !object.LastModified.IsZero() && object.LastModified.After(cutoff) {
				continue
			}
			summary.OrphanObjects = append(summary.OrphanObjects, object.Key)
			if dryRun {
				continue
			}
			if err := s.ObjectStore.Delete(ctx, object.Key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
				summary.Failures++
				issues.add(fmt.Sprintf("delete %s: %v", object.Key, err))
				continue
			}
			summary.ObjectsDeleted++
		}
	}

	orphansDeletedTotal.Add(float64(summary.ObjectsDeleted))
	s.logger().InfoContext(ctx, "orphan sweep completed",
		slog.String("tenant_id", tenantID),
		slog.Bool("dry_run", dryRun),
		slog.Int("orphans", len(summary.OrphanObjects)),
		slog.Int("deleted", summary.ObjectsDeleted),
	)
	if issues.count > 0 {
		return summary, issues.err("orphan sweep")
	}
	return summary, nil
}

func (s *Service) validate() error {
	if s.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if s.ObjectStore == nil {
		return fmt.Errorf("object store is required")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

type issueLog struct {
	count   int
	samples []string
}

func newIssueLog() *issueLog {
	return &issueLog{samples: make([]string, 0, maxIssueSamples)}
}

func (l *issueLog) add(message string) {
	l.count++
	if len(l.samples) < maxIssueSamples {
		l.samples = append(l.samples, message)
	}
}

func (l *issueLog) err(task string) error {
	if extra := l.count - len(l.samples); extra > 0 {
		return fmt.Errorf("%s found %d issue(s): %s; ... plus %d more", task, l.count, strings.Join(l.samples, "; "), extra)
	}
	return fmt.Errorf("%s found %d issue(s): %s", task, l.count, strings.Join(l.samples, "; "))
}
