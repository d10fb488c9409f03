package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// entityPrefix is stripped from wide-table column headers ("Article A1" -> "A1").
const entityPrefix = "Article "

// ReadCSV parses a wide table: Date, Total Views, then one column per entity.
func ReadCSV(r io.Reader) (*Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", ErrInvalidArgument)
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: csv header needs Date and Total Views columns, got %v", ErrInvalidArgument, header)
	}
	if !isColumn(header[0], "date") {
		return nil, fmt.Errorf("%w: first column must be Date, got %q", ErrInvalidArgument, header[0])
	}
	if !isColumn(header[1], "total views") {
		return nil, fmt.Errorf("%w: second column must be Total Views, got %q", ErrInvalidArgument, header[1])
	}

	entities := make([]EntityID, 0, len(header)-2)
	for _, col := range header[2:] {
		entities = append(entities, EntityIDFromColumn(col))
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		date, err := ParseDate(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidArgument, line, err)
		}
		total, err := parseMeasure(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d total: %v", ErrInvalidArgument, line, err)
		}
		views := make(map[EntityID]float64, len(entities))
		for j, id := range entities {
			v, err := parseMeasure(rec[j+2])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d entity %q: %v", ErrInvalidArgument, line, id, err)
			}
			views[id] = v
		}
		rows = append(rows, Row{Date: date, Aggregate: total, Views: views})
	}

	return New(entities, rows)
}

// LoadCSV reads a wide table from path.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open series file: %w", err)
	}
	defer f.Close()

	s, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteCSV writes s in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, s *Series) error {
	cw := csv.NewWriter(w)
	header := []string{"Date", "Total Views"}
	for _, id := range s.entities {
		header = append(header, entityPrefix+string(id))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for i := range s.dates {
		rec[0] = s.dates[i].String()
		rec[1] = strconv.FormatFloat(s.aggregates[i], 'f', -1, 64)
		for j, v := range s.views[i] {
			rec[j+2] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EntityIDFromColumn derives an entity id from a wide-table header.
func EntityIDFromColumn(col string) EntityID {
	return EntityID(strings.TrimPrefix(strings.TrimSpace(col), entityPrefix))
}

func isColumn(got, want string) bool {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(got)), "_", " ")
	return norm == want
}

func parseMeasure(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
