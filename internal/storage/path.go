package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildTableFilePath returns <tenant>/<dataset>/<table>/load=<id>/part-<seq>.parquet.
func BuildTableFilePath(tenantID, dataset, table, loadID string, sequence int) (string, error) {
	prefix, err := BuildTablePrefix(tenantID, dataset, table)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(loadID, "load id"); err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	return path.Join(prefix, "load="+loadID, fmt.Sprintf("part-%05d.parquet", sequence)), nil
}

// BuildTablePrefix returns the key prefix under which every file of a table lives.
func BuildTablePrefix(tenantID, dataset, table string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	return path.Join(tenantID, dataset, table) + "/", nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
