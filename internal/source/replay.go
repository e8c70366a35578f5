package source

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"codeberg.org/mutker/rlectl/internal/engine"
	"codeberg.org/mutker/rlectl/internal/errors"
)

// replaySource feeds a previously captured session back through the
// engine from a CSV file. Recognized columns: timestamp, device,
// util_pct (or cpu_util_pct), temp_c (or battery_temp_c),
// secondary_temp_c, power_w, fan_pct. Anything absent or unparsable
// becomes a missing reading.
type replaySource struct {
	file    *os.File
	reader  *csv.Reader
	columns map[string]int
	device  string
	line    int
}

// NewReplay opens a captured CSV session for replay. device overrides
// the file's device column when non-empty.
func NewReplay(path, device string) (Source, error) {
	errFactory := errors.New()

	file, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrReplayOpenFailed, err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, errFactory.Wrap(ErrReplayBadHeader, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	if _, ok := columns["timestamp"]; !ok {
		file.Close()
		return nil, errFactory.WithMessage(ErrReplayBadHeader, "replay CSV has no timestamp column")
	}

	return &replaySource{
		file:    file,
		reader:  reader,
		columns: columns,
		device:  device,
	}, nil
}

func (s *replaySource) Name() string {
	return "replay:" + s.file.Name()
}

func (s *replaySource) Sample(_ context.Context) (engine.Sample, error) {
	errFactory := errors.New()

	row, err := s.reader.Read()
	if err != nil {
		if err == io.EOF {
			return engine.Sample{}, errFactory.Wrap(ErrExhausted, err)
		}
		return engine.Sample{}, errFactory.Wrap(ErrReadFailed, err)
	}
	s.line++

	ts, ok := parseTimestamp(s.field(row, "timestamp"))
	if !ok {
		return engine.Sample{}, errFactory.WithData(ErrReadFailed, struct {
			Line  int
			Field string
		}{Line: s.line, Field: "timestamp"})
	}

	device := s.device
	if device == "" {
		if d := s.field(row, "device"); d != "" {
			device = d
		} else {
			device = "replay"
		}
	}

	utilPct := s.reading(row, "util_pct", "cpu_util_pct")

	return engine.Sample{
		DeviceID:       device,
		Timestamp:      ts,
		Utilization:    utilPct / 100.0,
		PowerW:         s.reading(row, "power_w"),
		TempC:          s.reading(row, "temp_c", "battery_temp_c"),
		SecondaryTempC: s.reading(row, "secondary_temp_c"),
		FanPct:         s.reading(row, "fan_pct", "gpu_fan_pct"),
	}, nil
}

func (s *replaySource) Close() error {
	return s.file.Close()
}

func (s *replaySource) field(row []string, name string) string {
	idx, ok := s.columns[name]
	if !ok || idx >= len(row) {
		return ""
	}

	return row[idx]
}

// reading returns the first parsable value among the named columns,
// or a missing-reading sentinel
func (s *replaySource) reading(row []string, names ...string) float64 {
	for _, name := range names {
		raw := s.field(row, name)
		if raw == "" {
			continue
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}

	return engine.NoReading()
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}

	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return ts, true
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Unix(0, int64(secs*1e9)), true
	}

	return time.Time{}, false
}
