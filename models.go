// Copyright 2025 Baraa Fadhloun
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"time"
)

// Reading is a single timestamped energy measurement parsed from a CSV row.
// Cost is nil until the cost imputation pass assigns one.
type Reading struct {
	ReadingAt time.Time
	Kwh       float64
	Cost      *float64
}

// ReadingDate returns the calendar date portion of the reading.
func (r Reading) ReadingDate() time.Time {
	return time.Date(r.ReadingAt.Year(), r.ReadingAt.Month(), r.ReadingAt.Day(), 0, 0, 0, 0, r.ReadingAt.Location())
}

// CostValue returns the imputed or explicit cost, zero when absent.
func (r Reading) CostValue() float64 {
	if r.Cost == nil {
		return 0
	}
	return *r.Cost
}

// DailyBucket holds the summed consumption and cost for one calendar date.
type DailyBucket struct {
	Date time.Time
	Kwh  float64
	Cost float64
}

// StatCard is a single headline metric on the dashboard
type StatCard struct {
	Title      string  `json:"title"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Change     string  `json:"change"`
	ChangeType string  `json:"change_type"` // increase, decrease, neutral
	Trend      string  `json:"trend"`
}

// UsagePoint is one day on the usage series
type UsagePoint struct {
	Date string  `json:"date"` // ISO date string
	Kwh  float64 `json:"kwh"`
}

// CostSegment is one slice of the cost breakdown
type CostSegment struct {
	Segment string  `json:"segment"` // Weekend, Peak Hours, Off-Peak
	Value   float64 `json:"value"`
}

// SummaryBadge is a small label/value display chip
type SummaryBadge struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// RecommendationImpact quantifies a recommendation's effect
type RecommendationImpact struct {
	Value  string `json:"value"`  // e.g. "€300" or "5 kg CO₂"
	Period string `json:"period"` // per_day, per_month, per_year
}

// RecommendationText is the localized copy for one language
type RecommendationText struct {
	Title  string   `json:"title"`
	Impact string   `json:"impact"`
	Tips   []string `json:"tips"`
}

// RecommendationContent carries the English and French copy
type RecommendationContent struct {
	EN RecommendationText `json:"en"`
	FR RecommendationText `json:"fr"`
}

// Recommendation is one actionable advice entry, always one of the
// categories cost_saving, co2_reduction or efficiency.
type Recommendation struct {
	Category string                 `json:"category"`
	Impact   RecommendationImpact   `json:"impact"`
	Tips     []string               `json:"tips"`
	Meta     map[string]any         `json:"meta,omitempty"`
	Content  *RecommendationContent `json:"content,omitempty"`
}

// DailyCostSnapshot is a day with its consumption and cost
type DailyCostSnapshot struct {
	Date string  `json:"date"`
	Kwh  float64 `json:"kwh"`
	Cost float64 `json:"cost"`
}

// WeekendWeekdayComparison compares average spend on weekend vs weekday buckets
type WeekendWeekdayComparison struct {
	WeekendAvgCostPerKwh float64 `json:"weekend_avg_cost_per_kwh"`
	WeekdayAvgCostPerKwh float64 `json:"weekday_avg_cost_per_kwh"`
	WeekendAvgDailyCost  float64 `json:"weekend_avg_daily_cost"`
	WeekdayAvgDailyCost  float64 `json:"weekday_avg_daily_cost"`
	WeekendDays          int     `json:"weekend_days"`
	WeekdayDays          int     `json:"weekday_days"`
}

// QuarterUsageComparison compares the first against the last calendar quarter
type QuarterUsageComparison struct {
	StartLabel   string   `json:"start_label"` // {year}Q{quarter}
	StartKwh     float64  `json:"start_kwh"`
	EndLabel     string   `json:"end_label"`
	EndKwh       float64  `json:"end_kwh"`
	DeltaKwh     float64  `json:"delta_kwh"`
	DeltaPercent *float64 `json:"delta_percent"` // nil when the starting quarter is zero
}

// PeakWindow is the 2-hour window with the highest aggregate consumption
type PeakWindow struct {
	StartHour    int     `json:"start_hour"`
	EndHour      int     `json:"end_hour"`
	AvgKwhPerDay float64 `json:"avg_kwh_per_day"`
}

// SummaryInsights holds the derived analytics beyond raw totals
type SummaryInsights struct {
	PeakDay           DailyCostSnapshot         `json:"peak_day"`
	WeekendVsWeekday  *WeekendWeekdayComparison `json:"weekend_vs_weekday"`
	TopExpensiveDays  []DailyCostSnapshot       `json:"top_expensive_days"`
	QuarterUsage      *QuarterUsageComparison   `json:"quarter_usage"`
	PeakWindow        *PeakWindow               `json:"peak_window"`
	AverageCostPerKwh float64                   `json:"average_cost_per_kwh"`
	ShiftKwh          float64                   `json:"shift_kwh"`
	DaysCovered       int                       `json:"days_covered"`
	CO2Factor         float64                   `json:"co2_factor"`
}

// Summary is the complete analytics output for one dataset
type Summary struct {
	Stats           []StatCard       `json:"stats"`
	Usage           []UsagePoint     `json:"usage"`
	CostBreakdown   []CostSegment    `json:"cost_breakdown"`
	Badges          []SummaryBadge   `json:"badges"`
	Recommendations []Recommendation `json:"recommendations"`
	Insights        *SummaryInsights `json:"insights"`
}

// DatasetRecord is the stored metadata for one uploaded dataset
type DatasetRecord struct {
	ID               int64   `json:"id"`
	OriginalFilename string  `json:"original_filename"`
	UploadedAt       string  `json:"uploaded_at"` // ISO-8601
	TotalKwh         float64 `json:"total_kwh"`
	TotalCost        float64 `json:"total_cost"`
	TotalCO2         float64 `json:"total_co2"`
	RowCount         int     `json:"row_count"`
}

// ReadingRecord is a stored reading as returned by the API
type ReadingRecord struct {
	ReadingDate string  `json:"reading_date"`
	ReadingTime *string `json:"reading_time,omitempty"`
	ReadingAt   *string `json:"reading_at,omitempty"`
	Kwh         float64 `json:"kwh"`
	Cost        float64 `json:"cost"`
}

// DatasetDetail combines a dataset record with its summary and readings
type DatasetDetail struct {
	Dataset  DatasetRecord   `json:"dataset"`
	Summary  Summary         `json:"summary"`
	Readings []ReadingRecord `json:"readings"`
}

// ChatMessage is one turn of conversation history
type ChatMessage struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// ChatRequest is the body of a chat API call
type ChatRequest struct {
	Prompt  string        `json:"prompt"`
	Context []ChatMessage `json:"context"`
}

// ChatResponse is the assistant's reply, with optional debug metadata
type ChatResponse struct {
	ID       string `json:"id"`
	Role     string `json:"role"` // always assistant
	Content  string `json:"content"`
	Analysis string `json:"analysis,omitempty"`
	SQL      string `json:"sql,omitempty"`
}

// ChatResult is the full outcome of one chat agent turn
type ChatResult struct {
	ID       string
	Content  string
	Analysis string
	SQL      string
	Rows     []map[string]any
}

// SQLDecision is the reasoning service's answer to "produce SQL + analysis".
// Malformed is set when the service returned unparseable JSON.
type SQLDecision struct {
	Analysis  string
	SQL       string
	Malformed bool
}

// HealthResponse is the health check payload
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// DatasetCharts holds rendered chart images for a dataset (base64 PNG)
type DatasetCharts struct {
	UsageChart string `json:"usage_chart"`
	CostChart  string `json:"cost_chart"`
}
