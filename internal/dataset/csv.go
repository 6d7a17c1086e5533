// Package dataset reads, writes and summarizes the synthetic record table.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// TimestampLayout is the timestamp column format.
const TimestampLayout = time.DateTime

// Header is the column order of the exported table.
var Header = []string{
	"timestamp", "district", "temperature", "humidity", "wind_speed", "load",
	"hour", "day_of_week", "month", "season", "is_peak_hour", "outage",
}

// ErrNotFound is returned when the dataset file does not exist.
var ErrNotFound = errors.New("dataset not found")

// Write encodes records as CSV with a header row.
func Write(w io.Writer, records []domain.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		if err := cw.Write(encodeRow(r)); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes records to path, creating parent directories.
func WriteFile(path string, records []domain.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, records); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encodeRow(r domain.Record) []string {
	return []string{
		r.Timestamp.Format(TimestampLayout),
		r.District,
		strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		strconv.Itoa(r.Humidity),
		strconv.FormatFloat(r.WindSpeed, 'f', -1, 64),
		strconv.Itoa(r.Load),
		strconv.Itoa(r.Hour),
		strconv.Itoa(r.DayOfWeek),
		strconv.Itoa(r.Month),
		strconv.Itoa(int(r.Season)),
		strconv.Itoa(r.IsPeakHour),
		strconv.Itoa(r.Outage),
	}
}

// Read decodes a CSV table. Columns are matched by header name, so extra
// columns and reordering are tolerated.
func Read(r io.Reader) ([]domain.Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, h := range Header {
		if _, ok := col[h]; !ok {
			return nil, fmt.Errorf("missing column %q", h)
		}
	}

	var records []domain.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := decodeRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadFile reads the table at path. A missing file yields an error wrapping
// [ErrNotFound].
func ReadFile(path string) ([]domain.Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

type rowDecoder struct {
	row []string
	col map[string]int
	err error
}

func (d *rowDecoder) str(name string) string {
	return d.row[d.col[name]]
}

func (d *rowDecoder) number(name string) float64 {
	if d.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(d.str(name), 64)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (d *rowDecoder) integer(name string) int {
	if d.err != nil {
		return 0
	}
	v, err := strconv.Atoi(d.str(name))
	if err != nil {
		d.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func decodeRow(row []string, col map[string]int) (domain.Record, error) {
	d := &rowDecoder{row: row, col: col}
	ts, err := time.Parse(TimestampLayout, d.str("timestamp"))
	if err != nil {
		return domain.Record{}, fmt.Errorf("timestamp: %w", err)
	}

	rec := domain.Record{
		Timestamp:   ts,
		District:    d.str("district"),
		Temperature: d.number("temperature"),
		Humidity:    d.integer("humidity"),
		WindSpeed:   d.number("wind_speed"),
		Load:        d.integer("load"),
		Hour:        d.integer("hour"),
		DayOfWeek:   d.integer("day_of_week"),
		Month:       d.integer("month"),
		Season:      domain.Season(d.integer("season")),
		IsPeakHour:  d.integer("is_peak_hour"),
		Outage:      d.integer("outage"),
	}
	return rec, d.err
}
