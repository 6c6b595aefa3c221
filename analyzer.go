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
	"fmt"
	"math"
	"sort"
	"time"
)

// Analyzer builds analytics summaries from parsed readings
type Analyzer struct {
	config *Config
	logger *Logger
}

// NewAnalyzer creates a new analyzer
func NewAnalyzer(config *Config, logger *Logger) *Analyzer {
	return &Analyzer{
		config: config,
		logger: logger.WithComponent("analyzer"),
	}
}

// BuildSummary aggregates a full analytics summary from readings. The
// slice is sorted in place and missing costs are imputed before any
// aggregation runs.
func (a *Analyzer) BuildSummary(readings []Reading) Summary {
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].ReadingAt.Before(readings[j].ReadingAt)
	})
	a.imputeCosts(readings)

	var totalKwh, totalCost float64
	for _, r := range readings {
		totalKwh += r.Kwh
		totalCost += r.CostValue()
	}
	totalCO2 := totalKwh * a.config.CO2FactorKgPerKwh

	dailyTotals := aggregateDailyTotals(readings)

	usage := make([]UsagePoint, 0, len(dailyTotals))
	for _, day := range dailyTotals {
		usage = append(usage, UsagePoint{
			Date: day.Date.Format("2006-01-02"),
			Kwh:  round2(day.Kwh),
		})
	}

	peakDay := maxKwhDay(dailyTotals)

	stats := []StatCard{
		{
			Title:      "Total Consumption",
			Value:      round2(totalKwh),
			Unit:       "kWh",
			Change:     "N/A",
			ChangeType: "neutral",
			Trend:      "Based on latest dataset",
		},
		{
			Title:      "Total Cost",
			Value:      round2(totalCost),
			Unit:       "",
			Change:     "N/A",
			ChangeType: "neutral",
			Trend:      "Based on latest dataset",
		},
		{
			Title:      "CO₂ Emission",
			Value:      round2(totalCO2),
			Unit:       "kg",
			Change:     "N/A",
			ChangeType: "neutral",
			Trend:      fmt.Sprintf("Factor %.2f kg/kWh", a.config.CO2FactorKgPerKwh),
		},
		{
			Title:      "Peak Usage Day",
			Value:      round1(peakDay.Kwh),
			Unit:       "kWh",
			Change:     peakDay.Date.Format("2006-01-02"),
			ChangeType: "neutral",
			Trend:      "Highest daily consumption",
		},
	}

	costBreakdown := a.costBreakdown(readings)

	var badges []SummaryBadge
	if len(dailyTotals) > 0 {
		badges = []SummaryBadge{
			{Label: "Carbon", Value: fmt.Sprintf("%.1f kg CO₂", totalCO2)},
			{Label: "Cost", Value: fmt.Sprintf("%.2f €", totalCost)},
			{Label: "Window", Value: fmt.Sprintf("%s → %s",
				dailyTotals[0].Date.Format("2006-01-02"),
				dailyTotals[len(dailyTotals)-1].Date.Format("2006-01-02"))},
		}
	}

	insights := a.calculateInsights(readings, dailyTotals, totalKwh, totalCost)

	a.logger.LogAnalysisStage("summary")

	return Summary{
		Stats:           stats,
		Usage:           usage,
		CostBreakdown:   costBreakdown,
		Badges:          badges,
		Recommendations: []Recommendation{},
		Insights:        insights,
	}
}

// imputeCosts fills in missing per-reading costs. When any explicit costs
// exist the blended rate over those rows is used; otherwise the
// configured default rate applies to every reading.
func (a *Analyzer) imputeCosts(readings []Reading) {
	var providedCost, kwhWithCost float64
	anyProvided := false
	for _, r := range readings {
		if r.Cost != nil {
			providedCost += *r.Cost
			kwhWithCost += r.Kwh
			anyProvided = true
		}
	}

	rate := a.config.DefaultRatePerKwh
	if anyProvided && kwhWithCost != 0 {
		rate = providedCost / kwhWithCost
	}

	for i := range readings {
		if readings[i].Cost == nil {
			cost := readings[i].Kwh * rate
			readings[i].Cost = &cost
		}
	}
}

// aggregateDailyTotals sums kwh and cost per calendar date, ascending
func aggregateDailyTotals(readings []Reading) []DailyBucket {
	type totals struct{ kwh, cost float64 }
	daily := make(map[string]*totals)
	for _, r := range readings {
		key := r.ReadingDate().Format("2006-01-02")
		bucket, ok := daily[key]
		if !ok {
			bucket = &totals{}
			daily[key] = bucket
		}
		bucket.kwh += r.Kwh
		bucket.cost += r.CostValue()
	}

	keys := make([]string, 0, len(daily))
	for key := range daily {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]DailyBucket, 0, len(keys))
	for _, key := range keys {
		date, _ := time.Parse("2006-01-02", key)
		result = append(result, DailyBucket{Date: date, Kwh: daily[key].kwh, Cost: daily[key].cost})
	}
	return result
}

// maxKwhDay returns the first day with maximal consumption
func maxKwhDay(dailyTotals []DailyBucket) DailyBucket {
	if len(dailyTotals) == 0 {
		return DailyBucket{}
	}
	best := dailyTotals[0]
	for _, day := range dailyTotals[1:] {
		if day.Kwh > best.Kwh {
			best = day
		}
	}
	return best
}

// costBreakdown splits total cost into Weekend, Peak Hours and Off-Peak
// segments. Weekend wins over the consumption threshold. Empty segments
// are omitted.
func (a *Analyzer) costBreakdown(readings []Reading) []CostSegment {
	threshold := kwhThreshold(readings, a.config.PeakHourPercentile)

	buckets := make(map[string]float64)
	for _, r := range readings {
		buckets[bucketForReading(r, threshold)] += r.CostValue()
	}

	var segments []CostSegment
	for _, name := range []string{"Weekend", "Peak Hours", "Off-Peak"} {
		if value, ok := buckets[name]; ok {
			segments = append(segments, CostSegment{Segment: name, Value: round2(value)})
		}
	}
	return segments
}

// kwhThreshold returns the consumption value at the given percentile of
// the ascending-sorted readings.
func kwhThreshold(readings []Reading, percentile float64) float64 {
	if len(readings) == 0 {
		return 0
	}
	sorted := make([]float64, 0, len(readings))
	for _, r := range readings {
		sorted = append(sorted, r.Kwh)
	}
	sort.Float64s(sorted)
	index := int(float64(len(sorted)) * percentile)
	if index > len(sorted)-1 {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func bucketForReading(r Reading, threshold float64) string {
	if isWeekend(r.ReadingDate().Weekday()) {
		return "Weekend"
	}
	if r.Kwh >= threshold {
		return "Peak Hours"
	}
	return "Off-Peak"
}

// calculateInsights derives the deeper analytics. Returns nil when there
// is nothing meaningful to report.
func (a *Analyzer) calculateInsights(readings []Reading, dailyTotals []DailyBucket, totalKwh, totalCost float64) *SummaryInsights {
	if len(readings) == 0 || len(dailyTotals) == 0 || totalKwh <= 0 {
		return nil
	}

	daysCovered := len(dailyTotals)
	averageCostPerKwh := totalCost / totalKwh

	peakDay := maxKwhDay(dailyTotals)
	peakSnapshot := DailyCostSnapshot{
		Date: peakDay.Date.Format("2006-01-02"),
		Kwh:  round2(peakDay.Kwh),
		Cost: round2(peakDay.Cost),
	}

	topExpensive := make([]DailyBucket, len(dailyTotals))
	copy(topExpensive, dailyTotals)
	sort.SliceStable(topExpensive, func(i, j int) bool {
		return topExpensive[i].Cost > topExpensive[j].Cost
	})
	if len(topExpensive) > 5 {
		topExpensive = topExpensive[:5]
	}
	topSnapshots := make([]DailyCostSnapshot, 0, len(topExpensive))
	for _, day := range topExpensive {
		topSnapshots = append(topSnapshots, DailyCostSnapshot{
			Date: day.Date.Format("2006-01-02"),
			Kwh:  round2(day.Kwh),
			Cost: round2(day.Cost),
		})
	}

	return &SummaryInsights{
		PeakDay:           peakSnapshot,
		WeekendVsWeekday:  weekendWeekdayComparison(dailyTotals),
		TopExpensiveDays:  topSnapshots,
		QuarterUsage:      quarterUsageComparison(readings),
		PeakWindow:        peakWindow(readings, daysCovered),
		AverageCostPerKwh: averageCostPerKwh,
		ShiftKwh:          5.0,
		DaysCovered:       daysCovered,
		CO2Factor:         a.config.CO2FactorKgPerKwh,
	}
}

// weekendWeekdayComparison averages daily cost and cost per kWh across
// weekend and weekday buckets.
func weekendWeekdayComparison(dailyTotals []DailyBucket) *WeekendWeekdayComparison {
	var weekend, weekday []DailyBucket
	for _, day := range dailyTotals {
		if isWeekend(day.Date.Weekday()) {
			weekend = append(weekend, day)
		} else {
			weekday = append(weekday, day)
		}
	}

	if len(weekend) == 0 && len(weekday) == 0 {
		return nil
	}

	averages := func(entries []DailyBucket) (avgDaily, avgPerKwh float64) {
		if len(entries) == 0 {
			return 0, 0
		}
		var cost, kwh float64
		for _, day := range entries {
			cost += day.Cost
			kwh += day.Kwh
		}
		avgDaily = cost / float64(len(entries))
		if kwh != 0 {
			avgPerKwh = cost / kwh
		}
		return avgDaily, avgPerKwh
	}

	weekendDaily, weekendPerKwh := averages(weekend)
	weekdayDaily, weekdayPerKwh := averages(weekday)

	return &WeekendWeekdayComparison{
		WeekendAvgCostPerKwh: round2(weekendPerKwh),
		WeekdayAvgCostPerKwh: round2(weekdayPerKwh),
		WeekendAvgDailyCost:  round2(weekendDaily),
		WeekdayAvgDailyCost:  round2(weekdayDaily),
		WeekendDays:          len(weekend),
		WeekdayDays:          len(weekday),
	}
}

// peakWindow finds the 2-hour window with the highest total consumption.
// The window wraps around midnight.
func peakWindow(readings []Reading, daysCovered int) *PeakWindow {
	if len(readings) == 0 || daysCovered == 0 {
		return nil
	}

	var hourly [24]float64
	for _, r := range readings {
		hourly[r.ReadingAt.Hour()] += r.Kwh
	}

	const windowHours = 2
	bestTotal := -1.0
	bestStart := 0
	for start := 0; start < 24; start++ {
		var total float64
		for offset := 0; offset < windowHours; offset++ {
			total += hourly[(start+offset)%24]
		}
		if total > bestTotal {
			bestTotal = total
			bestStart = start
		}
	}

	if bestTotal <= 0 {
		return nil
	}

	return &PeakWindow{
		StartHour:    bestStart,
		EndHour:      (bestStart + windowHours) % 24,
		AvgKwhPerDay: round2(bestTotal / float64(daysCovered)),
	}
}

// quarterUsageComparison compares the earliest against the latest
// calendar quarter. Needs at least two distinct quarters.
func quarterUsageComparison(readings []Reading) *QuarterUsageComparison {
	if len(readings) == 0 {
		return nil
	}

	type quarterKey struct {
		year    int
		quarter int
	}
	totals := make(map[quarterKey]float64)
	for _, r := range readings {
		key := quarterKey{
			year:    r.ReadingAt.Year(),
			quarter: (int(r.ReadingAt.Month())-1)/3 + 1,
		}
		totals[key] += r.Kwh
	}

	if len(totals) < 2 {
		return nil
	}

	keys := make([]quarterKey, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].quarter < keys[j].quarter
	})

	start, end := keys[0], keys[len(keys)-1]
	startKwh, endKwh := totals[start], totals[end]
	delta := endKwh - startKwh

	var deltaPercent *float64
	if startKwh != 0 {
		pct := round2(delta / startKwh * 100)
		deltaPercent = &pct
	}

	return &QuarterUsageComparison{
		StartLabel:   fmt.Sprintf("%dQ%d", start.year, start.quarter),
		StartKwh:     round2(startKwh),
		EndLabel:     fmt.Sprintf("%dQ%d", end.year, end.quarter),
		EndKwh:       round2(endKwh),
		DeltaKwh:     round2(delta),
		DeltaPercent: deltaPercent,
	}
}

func isWeekend(day time.Weekday) bool {
	return day == time.Saturday || day == time.Sunday
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
