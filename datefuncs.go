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
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"modernc.org/sqlite"
)

// The sandbox exposes Postgres-style date helpers on top of SQLite so
// generated queries can use date_trunc, date_part/extract and to_char.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("date_trunc", 2, sqliteDateTrunc)
	sqlite.MustRegisterDeterministicScalarFunction("date_part", 2, sqliteDatePart)
	sqlite.MustRegisterDeterministicScalarFunction("extract", 2, sqliteDatePart)
	sqlite.MustRegisterDeterministicScalarFunction("to_char", 2, sqliteToChar)
}

// parseSQLDatetime converts a sandbox column value into a timestamp.
// Accepts ISO strings (with or without a clock), bare dates and numeric
// Unix timestamps. Returns a zero time when the value cannot be read.
func parseSQLDatetime(value driver.Value) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v, true
	case int64:
		return time.Unix(v, 0).UTC(), true
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case []byte:
		return parseSQLDatetimeString(string(v))
	case string:
		return parseSQLDatetimeString(v)
	default:
		return time.Time{}, false
	}
}

func parseSQLDatetimeString(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	// The offset layouts cover the text rendering Postgres uses for
	// TIMESTAMPTZ columns ("2024-01-06 10:00:00+00").
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999-07",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringArg(value driver.Value) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// sqliteDateTrunc truncates a timestamp to the given unit. Week
// truncation starts on Monday, quarter on the first month of the
// quarter. Unknown units pass the timestamp through.
func sqliteDateTrunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	unit := strings.ToLower(strings.TrimSpace(stringArg(args[0])))
	t, ok := parseSQLDatetime(args[1])
	if !ok {
		return nil, nil
	}

	var truncated time.Time
	switch unit {
	case "second":
		truncated = t.Truncate(time.Second)
	case "minute":
		truncated = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	case "hour":
		truncated = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case "day":
		truncated = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case "week":
		offset := (int(t.Weekday()) + 6) % 7
		monday := t.AddDate(0, 0, -offset)
		truncated = time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
	case "month":
		truncated = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case "quarter":
		startMonth := time.Month((int(t.Month())-1)/3*3 + 1)
		truncated = time.Date(t.Year(), startMonth, 1, 0, 0, 0, 0, t.Location())
	case "year":
		truncated = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	default:
		truncated = t
	}

	return truncated.Format("2006-01-02T15:04:05"), nil
}

// sqliteDatePart extracts a numeric field from a timestamp. The dow
// convention is Sunday=0 through Saturday=6.
func sqliteDatePart(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	field := strings.ToLower(strings.TrimSpace(stringArg(args[0])))
	t, ok := parseSQLDatetime(args[1])
	if !ok {
		return nil, nil
	}

	switch field {
	case "year":
		return float64(t.Year()), nil
	case "month":
		return float64(t.Month()), nil
	case "day", "dayofmonth":
		return float64(t.Day()), nil
	case "doy":
		return float64(t.YearDay()), nil
	case "week", "isoweek":
		_, week := t.ISOWeek()
		return float64(week), nil
	case "quarter":
		return float64((int(t.Month())-1)/3 + 1), nil
	case "dow", "weekday":
		return float64(t.Weekday()), nil
	}

	return nil, nil
}

// sqliteToChar renders a timestamp through a small subset of Postgres
// format tokens: YYYY, YY, MM, DD, ID and IW.
func sqliteToChar(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	t, ok := parseSQLDatetime(args[0])
	if !ok {
		return nil, nil
	}
	format := stringArg(args[1])

	isoDay := int(t.Weekday())
	if isoDay == 0 {
		isoDay = 7
	}
	_, isoWeek := t.ISOWeek()

	replacements := []struct {
		token string
		value string
	}{
		{"YYYY", strftime.Format("%Y", t)},
		{"YY", strftime.Format("%y", t)},
		{"MM", strftime.Format("%m", t)},
		{"DD", strftime.Format("%d", t)},
		{"ID", fmt.Sprintf("%d", isoDay)},
		{"IW", fmt.Sprintf("%02d", isoWeek)},
	}

	result := format
	for _, r := range replacements {
		result = strings.ReplaceAll(result, r.token, r.value)
	}
	return result, nil
}
