// Copyright 2025 Baraa Fadhloun
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Timestamp layouts carrying a clock component, tried before the
// date-plus-time-column path.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var timeLayouts = []string{
	"15:04:05",
	"15:04",
}

// ParseEnergyCSV parses UTF-8 CSV content into readings. The header must
// carry either a "datetime" column or a "date" column, plus "kwh"; "time"
// and "cost" are optional. Rows with missing or unparseable required
// fields are skipped and counted as dropped.
func ParseEnergyCSV(data []byte) ([]Reading, int, error) {
	if !utf8.Valid(data) {
		return nil, 0, &ParseError{Detail: "CSV file must be UTF-8 encoded"}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, &ParseError{Detail: "CSV headers missing required columns"}
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.ToLower(name))] = i
	}

	_, hasDatetime := columns["datetime"]
	required := []string{"kwh"}
	if !hasDatetime {
		required = append(required, "date")
	}

	var missing []string
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, 0, &ParseError{Detail: fmt.Sprintf("CSV requires columns: %s", strings.Join(missing, ", "))}
	}

	dateColumn := "date"
	if hasDatetime {
		dateColumn = "datetime"
	}

	var readings []Reading
	dropped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			dropped++
			continue
		}

		rawDatetime := strings.TrimSpace(fieldAt(record, columns, dateColumn))
		kwhRaw := strings.TrimSpace(fieldAt(record, columns, "kwh"))
		if rawDatetime == "" || kwhRaw == "" {
			dropped++
			continue
		}

		readingAt, err := parseCSVDatetime(rawDatetime, fieldAt(record, columns, "time"))
		if err != nil {
			dropped++
			continue
		}
		kwh, err := strconv.ParseFloat(kwhRaw, 64)
		if err != nil {
			dropped++
			continue
		}

		var cost *float64
		if costRaw := strings.TrimSpace(fieldAt(record, columns, "cost")); costRaw != "" {
			if value, err := strconv.ParseFloat(costRaw, 64); err == nil {
				cost = &value
			}
		}

		readings = append(readings, Reading{ReadingAt: readingAt, Kwh: kwh, Cost: cost})
	}

	if len(readings) == 0 {
		return nil, dropped, &ParseError{Detail: "No valid rows found in CSV"}
	}

	return readings, dropped, nil
}

func fieldAt(record []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// parseCSVDatetime parses a timestamp column, falling back to combining a
// bare date with the optional time column. A missing time means midnight.
func parseCSVDatetime(value, timeRaw string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}

	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	datePart, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date")
	}

	timePart := strings.TrimSpace(timeRaw)
	if timePart == "" {
		return datePart, nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, timePart); err == nil {
			return time.Date(datePart.Year(), datePart.Month(), datePart.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time")
}
