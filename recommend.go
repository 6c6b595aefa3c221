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
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

var recommendationCategories = []string{"cost_saving", "co2_reduction", "efficiency"}

// Recommender fills a summary's recommendations from the reasoning
// service, normalizing whatever comes back into exactly three entries
// with fixed categories. Without a service the summary carries no
// recommendations; a garbled response is replaced with data-driven
// fallback copy.
type Recommender struct {
	client ReasoningClient
	logger *Logger
}

// NewRecommender creates a recommender. A nil client disables the
// feature.
func NewRecommender(client ReasoningClient, logger *Logger) *Recommender {
	return &Recommender{
		client: client,
		logger: logger.WithComponent("recommender"),
	}
}

// Apply returns the summary with its recommendations populated
func (r *Recommender) Apply(ctx context.Context, summary Summary) Summary {
	summary.Recommendations = r.request(ctx, summary)
	if summary.Recommendations == nil {
		summary.Recommendations = []Recommendation{}
	}
	return summary
}

func (r *Recommender) request(ctx context.Context, summary Summary) []Recommendation {
	if r.client == nil {
		return nil
	}

	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		r.logger.Warn("Failed to encode summary for recommendations", "error", err)
		return nil
	}
	userPrompt := fmt.Sprintf(
		"Analytics summary JSON (including insights):\n%s\nUse these metrics to tailor cost saving, CO₂ reduction, and efficiency advice in both English and French.",
		payload,
	)

	messages := []ChatMessage{
		{Role: "system", Content: recommendationSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	content, err := r.client.Complete(ctx, messages, 0.2, true)
	if err != nil {
		r.logger.Error("Recommendation request failed", "error", err)
		return nil
	}
	if content == "" {
		r.logger.Warn("Recommendation response was empty")
		return buildFallbackRecommendations(summary)
	}

	return r.parsePayload(content, summary)
}

// parsePayload decodes the model output, repairing unescaped newlines
// inside string literals before giving up on it.
func (r *Recommender) parsePayload(content string, summary Summary) []Recommendation {
	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		sanitized := sanitizeJSONLike(content)
		if err := json.Unmarshal([]byte(sanitized), &data); err != nil {
			snippet := content
			if len(snippet) > 500 {
				snippet = snippet[:500]
			}
			r.logger.Warn("Failed to decode recommendation payload", "sample", strings.ReplaceAll(snippet, "\n", "\\n"))
			return buildFallbackRecommendations(summary)
		}
	}
	return r.normalize(data, summary)
}

func (r *Recommender) normalize(data map[string]json.RawMessage, summary Summary) []Recommendation {
	raw, ok := data["recommendations"]
	if !ok {
		r.logger.Warn("Recommendation payload missing 'recommendations' array")
		return buildFallbackRecommendations(summary)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		r.logger.Warn("Recommendation payload 'recommendations' is not an array")
		return buildFallbackRecommendations(summary)
	}

	var validated []Recommendation
	seen := make(map[string]bool)
	for _, item := range items {
		var rec Recommendation
		if err := json.Unmarshal(item, &rec); err != nil {
			r.logger.Warn("Skipping unreadable recommendation entry", "error", err)
			continue
		}
		if !isKnownCategory(rec.Category) {
			r.logger.Warn("Skipping recommendation with unknown category", "category", rec.Category)
			continue
		}
		if seen[rec.Category] {
			r.logger.Warn("Skipping duplicate recommendation category", "category", rec.Category)
			continue
		}
		if len(rec.Tips) == 0 && rec.Content != nil {
			rec.Tips = rec.Content.EN.Tips
		}
		if rec.Tips == nil {
			rec.Tips = []string{}
		}
		seen[rec.Category] = true
		validated = append(validated, rec)
	}

	if len(validated) == 0 {
		return buildFallbackRecommendations(summary)
	}

	validated = ensureRequiredRecommendations(validated, summary)
	sortRecommendations(validated)
	if len(validated) > 3 {
		validated = validated[:3]
	}
	return validated
}

func isKnownCategory(category string) bool {
	for _, known := range recommendationCategories {
		if category == known {
			return true
		}
	}
	return false
}

// ensureRequiredRecommendations appends fallbacks for any missing
// category so the final list always covers all three.
func ensureRequiredRecommendations(recommendations []Recommendation, summary Summary) []Recommendation {
	existing := make(map[string]bool, len(recommendations))
	for _, rec := range recommendations {
		existing[rec.Category] = true
	}
	for _, category := range recommendationCategories {
		if !existing[category] {
			recommendations = append(recommendations, fallbackForCategory(category, summary))
			existing[category] = true
		}
	}
	return recommendations
}

func sortRecommendations(recommendations []Recommendation) {
	order := map[string]int{"cost_saving": 0, "co2_reduction": 1, "efficiency": 2}
	for i := 1; i < len(recommendations); i++ {
		for j := i; j > 0 && order[recommendations[j].Category] < order[recommendations[j-1].Category]; j-- {
			recommendations[j], recommendations[j-1] = recommendations[j-1], recommendations[j]
		}
	}
}

// sanitizeJSONLike replaces literal newlines inside JSON string literals
// with spaces so almost-valid model output still decodes.
func sanitizeJSONLike(payload string) string {
	var result strings.Builder
	result.Grow(len(payload))
	inString := false
	escaped := false
	for _, ch := range payload {
		if inString {
			if escaped {
				result.WriteRune(ch)
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				result.WriteRune(ch)
				escaped = true
			case '"':
				inString = false
				result.WriteRune(ch)
			case '\n', '\r':
				result.WriteRune(' ')
			default:
				result.WriteRune(ch)
			}
		} else {
			if ch == '"' {
				inString = true
			}
			result.WriteRune(ch)
		}
	}
	return result.String()
}

func buildFallbackRecommendations(summary Summary) []Recommendation {
	return []Recommendation{
		fallbackCostRecommendation(summary),
		fallbackCO2Recommendation(summary),
		fallbackEfficiencyRecommendation(summary),
	}
}

func fallbackForCategory(category string, summary Summary) Recommendation {
	switch category {
	case "co2_reduction":
		return fallbackCO2Recommendation(summary)
	case "efficiency":
		return fallbackEfficiencyRecommendation(summary)
	default:
		return fallbackCostRecommendation(summary)
	}
}

func buildRecommendation(category, impactValue, impactPeriod, titleEN, impactTextEN string, tipsEN []string, titleFR, impactTextFR string, tipsFR []string) Recommendation {
	return Recommendation{
		Category: category,
		Impact:   RecommendationImpact{Value: impactValue, Period: impactPeriod},
		Tips:     tipsEN,
		Content: &RecommendationContent{
			EN: RecommendationText{Title: titleEN, Impact: impactTextEN, Tips: tipsEN},
			FR: RecommendationText{Title: titleFR, Impact: impactTextFR, Tips: tipsFR},
		},
	}
}

func fallbackCostRecommendation(summary Summary) Recommendation {
	insights := summary.Insights

	var topDay, secondDay, lowDay *DailyCostSnapshot
	if insights != nil && len(insights.TopExpensiveDays) > 0 {
		topDay = &insights.TopExpensiveDays[0]
		lowDay = &insights.TopExpensiveDays[len(insights.TopExpensiveDays)-1]
		if len(insights.TopExpensiveDays) > 1 {
			secondDay = &insights.TopExpensiveDays[1]
		}
	}

	totalCostStat, _ := statValue(summary, "Total Cost")
	highCost := totalCostStat
	if topDay != nil {
		highCost = topDay.Cost
	}
	totalCost := totalCostStat
	if totalCost == 0 {
		totalCost = highCost
	}
	avgDailyCost := totalCost
	if insights != nil && insights.DaysCovered > 0 {
		avgDailyCost = totalCost / float64(insights.DaysCovered)
	}
	deltaCost := highCost - avgDailyCost
	if deltaCost < 0 {
		deltaCost = 0
	}

	dayLabel := "votre periode"
	if topDay != nil {
		dayLabel = isoDateLabel(topDay.Date)
	}
	nextLabel := dayLabel
	if secondDay != nil {
		nextLabel = isoDateLabel(secondDay.Date)
	}
	lowLabel := dayLabel
	if lowDay != nil {
		lowLabel = isoDateLabel(lowDay.Date)
	}

	impactValue := formatCurrency(highCost)
	avgCostValue := formatCurrency(avgDailyCost)
	deltaValue := formatCurrency(deltaCost)

	tipsEN := []string{
		fmt.Sprintf("Check which circuits pushed %s to %s.", dayLabel, impactValue),
		fmt.Sprintf("Target %s habits so days track closer to %s.", lowLabel, avgCostValue),
		fmt.Sprintf("Shift wash and heat runs off %s evenings to trim peaks.", nextLabel),
	}
	tipsFR := []string{
		fmt.Sprintf("Reperez les postes qui montent %s a %s.", dayLabel, impactValue),
		fmt.Sprintf("Reproduisez les habitudes de %s pour viser %s.", lowLabel, avgCostValue),
		fmt.Sprintf("Planifiez lavage ou chauffage hors des soirees du %s.", nextLabel),
	}

	return buildRecommendation(
		"cost_saving",
		impactValue,
		"per_day",
		fmt.Sprintf("Reduce %s spend", dayLabel),
		fmt.Sprintf("Moving peak loads trims about %s versus the average %s day.", deltaValue, avgCostValue),
		tipsEN,
		fmt.Sprintf("Calmer le cout du %s", dayLabel),
		fmt.Sprintf("Reporter les pics fait gagner env. %s face a la moyenne %s.", deltaValue, avgCostValue),
		tipsFR,
	)
}

func fallbackCO2Recommendation(summary Summary) Recommendation {
	insights := summary.Insights

	co2Total, _ := statValue(summary, "CO₂ Emission")
	days := 30
	if insights != nil && insights.DaysCovered > 0 {
		days = insights.DaysCovered
	}
	dailyCO2 := co2Total / float64(days)

	weekendLabel := "weekends"
	weekdayLabel := "weekdays"
	if insights != nil && insights.WeekendVsWeekday != nil {
		weekendLabel = fmt.Sprintf("weekends (%.2f €/kWh)", insights.WeekendVsWeekday.WeekendAvgCostPerKwh)
		weekdayLabel = fmt.Sprintf("weekdays (%.2f €/kWh)", insights.WeekendVsWeekday.WeekdayAvgCostPerKwh)
	}

	impactValue := fmt.Sprintf("%.1f kg CO2", dailyCO2)
	tipsEN := []string{
		fmt.Sprintf("Keep efficient devices on during %s when demand spikes.", weekendLabel),
		fmt.Sprintf("Dial HVAC by 1°C on %s evenings to curb base load.", weekdayLabel),
		"Disconnect chargers and media boxes overnight to stop idle draw.",
	}
	tipsFR := []string{
		fmt.Sprintf("Gardez les appareils sobres actifs le %s quand la demande monte.", weekendLabel),
		fmt.Sprintf("Adaptez chauffage ou climatisation de 1°C les soirs de %s.", weekdayLabel),
		"Debranchez chargeurs et box la nuit pour couper la veille.",
	}

	return buildRecommendation(
		"co2_reduction",
		impactValue,
		"per_day",
		"Lower daily CO2",
		fmt.Sprintf("Trimming idle loads keeps emissions near %s per day.", impactValue),
		tipsEN,
		"Reduire le CO2 quotidien",
		fmt.Sprintf("Limiter les usages passifs fixe l'empreinte autour de %s par jour.", impactValue),
		tipsFR,
	)
}

func fallbackEfficiencyRecommendation(summary Summary) Recommendation {
	insights := summary.Insights

	var avgKwh float64
	windowLabel := "les heures de pointe"
	if insights != nil && insights.PeakWindow != nil {
		window := insights.PeakWindow
		avgKwh = window.AvgKwhPerDay
		windowLabel = fmt.Sprintf("%02d:00-%02d:00", window.StartHour, window.EndHour)
	} else {
		avgKwh, _ = statValue(summary, "Peak Usage Day")
	}
	impactValue := fmt.Sprintf("%.1f kWh", avgKwh)

	sampleDates := "recent days"
	if len(summary.Usage) > 0 {
		points := summary.Usage
		if len(points) > 3 {
			points = points[:3]
		}
		dates := make([]string, 0, len(points))
		for _, point := range points {
			dates = append(dates, point.Date)
		}
		sampleDates = strings.Join(dates, ", ")
	}

	daysText := "votre periode"
	if len(summary.Usage) > 0 {
		daysText = fmt.Sprintf("%s -> %s", summary.Usage[0].Date, summary.Usage[len(summary.Usage)-1].Date)
	}

	tipsEN := []string{
		fmt.Sprintf("Stagger high loads outside %s to smooth demand.", windowLabel),
		fmt.Sprintf("Sequence appliances so %s do not overlap cycles.", sampleDates),
		fmt.Sprintf("Review %s usage to find low-load slots for chores.", daysText),
	}
	tipsFR := []string{
		fmt.Sprintf("Echelonnez les fortes charges hors %s pour lisser la demande.", windowLabel),
		fmt.Sprintf("Ordonnez les appareils pour que %s ne se chevauchent pas.", sampleDates),
		fmt.Sprintf("Analysez %s pour caler les taches sur des creux.", daysText),
	}

	return buildRecommendation(
		"efficiency",
		impactValue,
		"per_day",
		"Smooth the load curve",
		fmt.Sprintf("Balancing demand keeps daily peaks close to %s.", impactValue),
		tipsEN,
		"Lissee la charge",
		fmt.Sprintf("Equilibrer la demande maintient les pics autour de %s.", impactValue),
		tipsFR,
	)
}

// statValue finds a stat card by title, case-insensitively
func statValue(summary Summary, title string) (float64, bool) {
	for _, stat := range summary.Stats {
		if strings.EqualFold(stat.Title, title) {
			return stat.Value, true
		}
	}
	return 0, false
}

func formatCurrency(value float64) string {
	if value <= 0 {
		return "€0"
	}
	if value >= 100 {
		return fmt.Sprintf("€%.0f", value)
	}
	return fmt.Sprintf("€%.2f", value)
}

// isoDateLabel normalizes a stored date string to YYYY-MM-DD
func isoDateLabel(dateStr string) string {
	if dateStr == "" {
		return "votre periode"
	}
	if t, ok := parseSQLDatetimeString(dateStr); ok {
		return t.Format("2006-01-02")
	}
	return dateStr
}
