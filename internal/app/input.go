package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"stream-auditor/internal/models"
)

// identifierLike matches cells that read as a code rather than a column name,
// malformed ISRCs included.
var identifierLike = regexp.MustCompile(`^[A-Z0-9]*[0-9][A-Z0-9]*$`)

// ReadIdentifiers reads identifiers from CSV or plain text, one per row.
// The first row is a header when a cell mentions "isrc" or when none of its
// cells looks like an identifier; the "isrc" column is used, otherwise the
// first column. Blank cells are skipped and duplicates dropped, keeping
// first occurrences.
func ReadIdentifiers(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read identifiers: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := 0
	first := rows[0]
	_, idx, named := lo.FindIndexOf(first, func(h string) bool {
		return strings.Contains(strings.ToLower(h), "isrc")
	})
	if named {
		col = idx
	}
	if named || !lo.SomeBy(first, looksLikeIdentifier) {
		rows = rows[1:]
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if col < len(row) {
			if v := strings.TrimSpace(row[col]); v != "" {
				ids = append(ids, v)
			}
		}
	}
	return Dedupe(ids), nil
}

func looksLikeIdentifier(cell string) bool {
	return identifierLike.MatchString(models.NormalizeIdentifier(cell))
}

// Dedupe removes identifiers that normalise to one already seen.
func Dedupe(ids []string) []string {
	return lo.UniqBy(ids, models.NormalizeIdentifier)
}

// ReadIdentifierFile is ReadIdentifiers on a path; "-" reads stdin.
func ReadIdentifierFile(path string, stdin io.Reader) ([]string, error) {
	if path == "-" {
		return ReadIdentifiers(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("identifier file %s does not exist", path)
		}
		return nil, err
	}
	defer f.Close()
	return ReadIdentifiers(f)
}
