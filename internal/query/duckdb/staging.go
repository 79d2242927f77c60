package duckdb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jellydator/ttlcache/v3"

	"github.com/duckmesh/sqlpilot/internal/catalog"
)

type stagedTables struct {
	tables []catalog.TableDef
	// paths maps dataset.table to local parquet files.
	paths map[string][]string
	files int
	bytes int64
}

// referencedTables keeps the tables whose dataset and name both appear in
// the SQL text. Matching is textual, so a mention inside a literal stages the
// table too.
func referencedTables(tables []catalog.TableDef, sqlText string) []catalog.TableDef {
	lower := strings.ToLower(sqlText)
	referenced := make([]catalog.TableDef, 0, len(tables))
	for _, table := range tables {
		if strings.Contains(lower, strings.ToLower(table.Dataset)) && strings.Contains(lower, strings.ToLower(table.Name)) {
			referenced = append(referenced, table)
		}
	}
	return referenced
}

func (e *Engine) stageTables(ctx context.Context, tenantID string, tables []catalog.TableDef) (stagedTables, error) {
	staged := stagedTables{tables: tables, paths: make(map[string][]string, len(tables))}
	var files []catalog.DataFile
	owners := make([]string, 0)
	for _, table := range tables {
		tableFiles, err := e.Catalog.ListTableFiles(ctx, tenantID, table.TableID)
		if err != nil {
			return stagedTables{}, fmt.Errorf("list files for table %s: %w", table.QualifiedName(), err)
		}
		for _, file := range tableFiles {
			files = append(files, file)
			owners = append(owners, table.QualifiedName())
			staged.bytes += file.FileSizeBytes
		}
	}
	if len(files) == 0 {
		return staged, nil
	}

	group := e.stagingPool.NewGroupContext(ctx)
	for _, file := range files {
		group.SubmitErr(func() (string, error) {
			return e.stageFile(ctx, file.Path)
		})
	}
	localPaths, err := group.Wait()
	if err != nil {
		return stagedTables{}, fmt.Errorf("stage table files: %w", err)
	}
	for i, localPath := range localPaths {
		staged.paths[owners[i]] = append(staged.paths[owners[i]], localPath)
	}
	staged.files = len(files)
	return staged, nil
}

// stageFile returns a local copy of an object, downloading it on a cache miss.
// Object paths are immutable once registered, so a cached copy never goes
// stale; it is removed when its entry expires.
func (e *Engine) stageFile(ctx context.Context, objectPath string) (string, error) {
	if item := e.files.Get(objectPath); item != nil {
		if _, err := os.Stat(item.Value()); err == nil {
			return item.Value(), nil
		}
		e.files.Delete(objectPath)
	}

	reader, err := e.Store.Get(ctx, objectPath)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", objectPath, err)
	}
	defer func() { _ = reader.Close() }()

	localPath := filepath.Join(e.cacheDir, sanitizeFileComponent(objectPath))
	if err := writeFileAtomic(localPath, reader); err != nil {
		return "", fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	e.files.Set(objectPath, localPath, ttlcache.DefaultTTL)
	return localPath, nil
}

// writeFileAtomic writes into a temp file beside path and renames it so
// concurrent readers never see a partial file.
func writeFileAtomic(path string, reader io.Reader) error {
	file, err := os.CreateTemp(filepath.Dir(path), ".staging-*")
	if err != nil {
		return err
	}
	tmpPath := file.Name()
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table.parquet"
	}
	return value
}
