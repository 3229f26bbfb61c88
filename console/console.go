// Package console reads the measurements a device prints on its serial console.
package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/akhenakh/climateguard/payload"
)

// DeviceTime is the key of the device uptime in milliseconds
const DeviceTime = "timestamp"

// CSVFields are the columns written by CSVWriter after the local time
var CSVFields = []string{"temperature", "humidity", "pressure", "voltage"}

// Line is one line of console output.
// Record is nil for informational lines.
type Line struct {
	Text   string
	Record payload.Record
}

// ParseLine parses a console line, JSON objects are measurements.
func ParseLine(s string) (Line, error) {
	s = strings.TrimSpace(s)
	l := Line{Text: s}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return l, nil
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return l, fmt.Errorf("invalid measurement %q: %w", s, err)
	}

	rec := make(payload.Record, len(m))
	for k, v := range m {
		n, ok := v.(json.Number)
		if !ok {
			return l, fmt.Errorf("measurement %q: %q is not a number", s, k)
		}
		if k == DeviceTime {
			i, err := n.Int64()
			if err != nil {
				return l, fmt.Errorf("measurement %q: %w", s, err)
			}
			rec[k] = i
			continue
		}
		f, err := n.Float64()
		if err != nil {
			return l, fmt.Errorf("measurement %q: %w", s, err)
		}
		rec[k] = f
	}
	l.Record = rec
	return l, nil
}

// Read calls fn for every line of r until r is exhausted, fn fails or ctx is done.
// Invalid measurements are passed to onErr and skipped.
func Read(ctx context.Context, r io.Reader, fn func(Line) error, onErr func(error)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := bytes.ToValidUTF8(scanner.Bytes(), nil)
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		l, err := ParseLine(string(b))
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			continue
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// CSVWriter appends measurements as CSV rows
type CSVWriter struct {
	w      *csv.Writer
	header bool
}

// NewCSVWriter returns a CSVWriter, header is written before the first row when true.
func NewCSVWriter(w io.Writer, header bool) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), header: header}
}

// Write writes rec at time t, missing fields are left empty.
func (c *CSVWriter) Write(t time.Time, rec payload.Record) error {
	if c.header {
		if err := c.w.Write(append([]string{"timestamp"}, CSVFields...)); err != nil {
			return err
		}
		c.header = false
	}

	row := []string{t.Format("2006-01-02 15:04:05")}
	for _, k := range CSVFields {
		f, err := payload.Float(rec, k)
		if err != nil {
			row = append(row, "")
			continue
		}
		row = append(row, strconv.FormatFloat(f, 'f', -1, 64))
	}
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}
