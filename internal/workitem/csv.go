package workitem

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/article"
)

// Header is the expected first row of an input file.
var Header = []string{"phrase", "section", "sort_by", "results"}

// RowError is an input row that was skipped.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e RowError) Unwrap() error { return e.Err }

// ReadCSV parses payload rows. The first row is a header and is skipped; columns are
// positional (phrase, section, sort_by, results). Blank lines are ignored. A row that does not
// parse is left out and reported in skipped so the rest of the file still runs; err is only
// set when the input cannot be read at all.
func ReadCSV(r io.Reader) (payloads []article.Payload, skipped []RowError, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return payloads, skipped, nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			skipped = append(skipped, RowError{Line: parseErr.StartLine, Err: parseErr.Err})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		line, _ := reader.FieldPos(0)
		p, err := parseRow(row)
		if err != nil {
			skipped = append(skipped, RowError{Line: line, Err: err})
			continue
		}
		payloads = append(payloads, p)
	}
}

func parseRow(row []string) (article.Payload, error) {
	if len(row) < len(Header) {
		return article.Payload{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(row))
	}
	sortBy, err := strconv.Atoi(strings.TrimSpace(row[2]))
	if err != nil {
		return article.Payload{}, fmt.Errorf("invalid sort_by %q: %w", row[2], err)
	}
	results, err := strconv.Atoi(strings.TrimSpace(row[3]))
	if err != nil {
		return article.Payload{}, fmt.Errorf("invalid results %q: %w", row[3], err)
	}
	p := article.Payload{
		Phrase:  strings.TrimSpace(row[0]),
		Section: strings.TrimSpace(row[1]),
		SortBy:  sortBy,
		Results: results,
	}
	if err := p.Validate(); err != nil {
		return article.Payload{}, err
	}
	return p, nil
}

// LoadCSV reads the file at path and wraps every valid row in an Item. Skipped rows are
// logged.
func LoadCSV(path string, now time.Time, logger *zap.Logger) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	payloads, skipped, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, rowErr := range skipped {
		logger.Warn("Skipping invalid work item row.", zap.String("path", path), zap.Int("line", rowErr.Line), zap.Error(rowErr.Err))
	}
	items := make([]Item, 0, len(payloads))
	for _, p := range payloads {
		items = append(items, NewItem(p, now))
	}
	return items, nil
}
