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
	"encoding/base64"
	"fmt"
	"time"

	charts "github.com/vicanso/go-charts/v2"
)

// ChartGenerator renders dataset charts as base64-encoded PNGs
type ChartGenerator struct {
	theme string
}

// NewChartGenerator creates a new chart generator
func NewChartGenerator() *ChartGenerator {
	return &ChartGenerator{
		theme: "dark",
	}
}

// GenerateUsageChart creates a line chart of daily consumption
func (cg *ChartGenerator) GenerateUsageChart(readings []ReadingRecord) (string, error) {
	if len(readings) == 0 {
		return "", fmt.Errorf("no readings available")
	}

	dailyKwh := aggregateReadingsByDay(readings, func(r ReadingRecord) float64 { return r.Kwh })
	dates := sortedDates(dailyKwh)

	var values []float64
	var labels []string
	for _, date := range dates {
		labels = append(labels, date.Format("Jan 2"))
		values = append(values, dailyKwh[date])
	}

	return cg.renderLineChart("Daily Energy Usage", [][]float64{values}, []string{"Consumption (kWh)"}, labels)
}

// GenerateCostChart creates a line chart of daily cost
func (cg *ChartGenerator) GenerateCostChart(readings []ReadingRecord) (string, error) {
	if len(readings) == 0 {
		return "", fmt.Errorf("no readings available")
	}

	dailyCost := aggregateReadingsByDay(readings, func(r ReadingRecord) float64 { return r.Cost })
	dates := sortedDates(dailyCost)

	var values []float64
	var labels []string
	for _, date := range dates {
		labels = append(labels, date.Format("Jan 2"))
		values = append(values, dailyCost[date])
	}

	return cg.renderLineChart("Daily Energy Cost", [][]float64{values}, []string{"Cost (€)"}, labels)
}

func (cg *ChartGenerator) renderLineChart(title string, values [][]float64, legendLabels, labels []string) (string, error) {
	p, err := charts.LineRender(
		values,
		charts.TitleTextOptionFunc(title),
		charts.XAxisDataOptionFunc(labels),
		charts.LegendLabelsOptionFunc(legendLabels, charts.PositionRight),
		charts.ThemeOptionFunc(cg.theme),
		charts.WidthOptionFunc(1200),
		charts.HeightOptionFunc(400),
		charts.PaddingOptionFunc(charts.Box{
			Top:    20,
			Right:  20,
			Bottom: 20,
			Left:   20,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to generate chart bytes: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf), nil
}

// aggregateReadingsByDay groups reading values by date and sums them
func aggregateReadingsByDay(readings []ReadingRecord, value func(ReadingRecord) float64) map[time.Time]float64 {
	daily := make(map[time.Time]float64)
	for _, r := range readings {
		date, ok := parseSQLDatetimeString(r.ReadingDate)
		if !ok {
			continue
		}
		date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
		daily[date] += value(r)
	}
	return daily
}

// sortedDates extracts and sorts all unique dates from the map
func sortedDates(daily map[time.Time]float64) []time.Time {
	dates := make([]time.Time, 0, len(daily))
	for date := range daily {
		dates = append(dates, date)
	}

	for i := 0; i < len(dates)-1; i++ {
		for j := i + 1; j < len(dates); j++ {
			if dates[i].After(dates[j]) {
				dates[i], dates[j] = dates[j], dates[i]
			}
		}
	}

	return dates
}
