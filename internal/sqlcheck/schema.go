package sqlcheck

import (
	"regexp"
	"strings"
)

var schemaHeaderPattern = regexp.MustCompile(`Schema for table (.+):`)

type Column struct {
	Name string
	Type string
}

// FormatSchema renders the schema description consumed by the prompts and
// validators:
//
//	Schema for table <name>:
//	- <column> (<type>)
func FormatSchema(table string, columns []Column) string {
	lines := make([]string, 0, len(columns)+1)
	lines = append(lines, "Schema for table "+table+":")
	for _, column := range columns {
		lines = append(lines, "- "+column.Name+" ("+column.Type+")")
	}
	return strings.Join(lines, "\n")
}

// ParseSchema extracts the table name from the first line and the columns
// from every "- " line. ok is false when the header is missing.
func ParseSchema(description string) (table string, columns []Column, ok bool) {
	lines := strings.Split(description, "\n")
	match := schemaHeaderPattern.FindStringSubmatch(lines[0])
	if match == nil {
		return "", nil, false
	}
	table = match[1]
	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		fields := strings.Fields(line[2:])
		if len(fields) == 0 {
			continue
		}
		column := Column{Name: fields[0]}
		if len(fields) > 1 {
			column.Type = strings.Trim(strings.Join(fields[1:], " "), "()")
		}
		columns = append(columns, column)
	}
	return table, columns, true
}
