package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// InputHeader is the canonical raw batch file header used by fixtures.
const InputHeader = "jurisdiction_code,registration_number,annotation_number,act_nature_code,act_nature_name,year,registration_date,registry_office,department,municipality,zone_type,dynamics,value,party_count"

// InputRow builds one raw CSV row with sensible defaults, overridable
// per column name.
func InputRow(overrides map[string]string) string {
	defaults := map[string]string{
		"jurisdiction_code":   "11001",
		"registration_number": "50N-1",
		"annotation_number":   "1",
		"act_nature_code":     "0125",
		"act_nature_name":     "COMPRAVENTA",
		"year":                "2019",
		"registration_date":   "2019-03-04",
		"registry_office":     "70",
		"department":          "CUNDINAMARCA",
		"municipality":        "BOGOTA",
		"zone_type":           "URBANO",
		"dynamics":            "1",
		"value":               "150000000",
		"party_count":         "2",
	}
	for k, v := range overrides {
		defaults[k] = v
	}

	columns := strings.Split(InputHeader, ",")
	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = defaults[col]
	}
	return strings.Join(row, ",")
}

// WriteInputFile writes a raw batch file with the canonical header and
// the given rows, returning its path.
func WriteInputFile(t *testing.T, rows ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.csv")
	content := InputHeader + "\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write input fixture: %v", err)
	}
	return path
}

// RepeatedRows builds n rows sharing the same registration number and
// year, with distinct annotation numbers so every row keeps a unique
// composite key.
func RepeatedRows(n int, registration string, year int) []string {
	rows := make([]string, n)
	for i := 0; i < n; i++ {
		rows[i] = InputRow(map[string]string{
			"registration_number": registration,
			"annotation_number":   fmt.Sprintf("%d", i+1),
			"year":                fmt.Sprintf("%d", year),
		})
	}
	return rows
}
