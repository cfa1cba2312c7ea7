package stats

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"support-bot/priority"

	"github.com/natefinch/atomic"
)

type Summary struct {
	TotalTickets         int     `json:"total_tickets"`
	OpenTickets          int     `json:"open_tickets"`
	ClosedTickets        int     `json:"closed_tickets"`
	AvgResponseTime      string  `json:"avg_response_time"`
	AvgResolutionTime    string  `json:"avg_resolution_time"`
	CustomerSatisfaction float64 `json:"customer_satisfaction"`
	TopCategory          string  `json:"top_category"`
	TopStaff             string  `json:"top_staff"`
	EscalationRate       float64 `json:"escalation_rate"`
}

func (m *Manager) Summary() Summary {
	a := m.Snapshot()
	met := computeMetrics(a)

	top := "N/A"
	if id := topKey(a.Staff.TicketsHandled); id != "" {
		top = "<@" + id + ">"
	}
	category := topKey(a.Tickets.ByCategory)
	if category == "" {
		category = "N/A"
	}
	return Summary{
		TotalTickets:         a.Tickets.Total,
		OpenTickets:          a.Tickets.Open,
		ClosedTickets:        a.Tickets.Closed,
		AvgResponseTime:      priority.FormatDuration(met.AvgResponseTime),
		AvgResolutionTime:    priority.FormatDuration(met.AvgResolutionTime),
		CustomerSatisfaction: round1(met.CustomerSatisfaction),
		TopCategory:          category,
		TopStaff:             top,
		EscalationRate:       round1(met.EscalationRate),
	}
}

// topKey returns the key with the highest count; ties go to the smallest
// key. Empty maps and all-zero maps yield "".
func topKey(counts map[string]int) string {
	best, bestN := "", 0
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

type Period string

const (
	Day   Period = "day"
	Week  Period = "week"
	Month Period = "month"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case Day, Week, Month:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

type PeriodCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// ByPeriod sums tickets created over the last days days (today included)
// into day, week (starting Sunday) or month buckets, oldest first.
func (m *Manager) ByPeriod(p Period, days int) []PeriodCount {
	if days <= 0 {
		days = 30
	}
	a := m.Snapshot()
	today := m.clock.Now().In(m.cfg.Location)

	var out []PeriodCount
	index := map[string]int{}
	for i := days - 1; i >= 0; i-- {
		d := today.AddDate(0, 0, -i)
		var key string
		switch p {
		case Week:
			key = d.AddDate(0, 0, -int(d.Weekday())).Format("2006-01-02")
		case Month:
			key = d.Format("2006-01")
		default:
			key = d.Format("2006-01-02")
		}
		n := a.Tickets.ByDay[d.Format("2006-01-02")]
		if at, ok := index[key]; ok {
			out[at].Count += n
			continue
		}
		index[key] = len(out)
		out = append(out, PeriodCount{Key: key, Count: n})
	}
	return out
}

type StaffPerformance struct {
	StaffID           string  `json:"staff_id"`
	TicketsHandled    int     `json:"tickets_handled"`
	AvgResponseTime   string  `json:"avg_response_time"`
	AvgResolutionTime string  `json:"avg_resolution_time"`
	AvgSatisfaction   float64 `json:"avg_satisfaction"`
	TotalResponses    int     `json:"total_responses"`
	TotalRatings      int     `json:"total_ratings"`
}

// StaffReport lists every staff member who has closed a claimed ticket,
// busiest first.
func (m *Manager) StaffReport() []StaffPerformance {
	a := m.Snapshot()
	out := make([]StaffPerformance, 0, len(a.Staff.TicketsHandled))
	for id, handled := range a.Staff.TicketsHandled {
		responses := a.Staff.ResponseTime[id]
		ratings := a.Staff.Satisfaction[id]
		avgSat := 0.0
		if len(ratings) > 0 {
			sum := 0
			for _, r := range ratings {
				sum += r
			}
			avgSat = float64(sum) / float64(len(ratings))
		}
		out = append(out, StaffPerformance{
			StaffID:           id,
			TicketsHandled:    handled,
			AvgResponseTime:   priority.FormatDuration(average(responses)),
			AvgResolutionTime: priority.FormatDuration(average(a.Staff.ResolutionTime[id])),
			AvgSatisfaction:   round1(avgSat),
			TotalResponses:    len(responses),
			TotalRatings:      len(ratings),
		})
	}
	slices.SortFunc(out, func(x, y StaffPerformance) int {
		if c := cmp.Compare(y.TicketsHandled, x.TicketsHandled); c != 0 {
			return c
		}
		return cmp.Compare(x.StaffID, y.StaffID)
	})
	return out
}

type Trend struct {
	Trend         string  `json:"trend"`
	PercentChange float64 `json:"percent_change"`
	FirstHalfAvg  float64 `json:"first_half_avg"`
	SecondHalfAvg float64 `json:"second_half_avg"`
}

// Trends compares the average of the first half of values with the second
// half. Changes beyond ±5% count as increasing or decreasing.
func Trends(values []int) Trend {
	if len(values) < 2 {
		return Trend{Trend: "insufficient_data"}
	}
	mid := len(values) / 2
	first, second := mean(values[:mid]), mean(values[mid:])

	var change float64
	switch {
	case first != 0:
		change = (second - first) / first * 100
	case second > 0:
		change = 100
	}

	t := Trend{
		Trend:         "stable",
		PercentChange: round1(change),
		FirstHalfAvg:  round1(first),
		SecondHalfAvg: round1(second),
	}
	switch {
	case change > 5:
		t.Trend = "increasing"
	case change < -5:
		t.Trend = "decreasing"
	}
	return t
}

func mean(vs []int) float64 {
	sum := 0
	for _, v := range vs {
		sum += v
	}
	return float64(sum) / float64(len(vs))
}

type MonthlyReport struct {
	Period           string         `json:"period"`
	TotalTickets     int            `json:"total_tickets"`
	DailyBreakdown   map[string]int `json:"daily_breakdown"`
	AvgTicketsPerDay float64        `json:"avg_tickets_per_day"`
	PeakDay          int            `json:"peak_day"`
	Trends           Trend          `json:"trends"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// MonthlyReport builds the report for one calendar month and writes it to
// <ReportDir>/monthly-YYYY-MM.json when a report directory is configured.
func (m *Manager) MonthlyReport(year int, month time.Month) (MonthlyReport, error) {
	if month < time.January || month > time.December {
		return MonthlyReport{}, fmt.Errorf("invalid month %d", month)
	}
	a := m.Snapshot()
	key := fmt.Sprintf("%04d-%02d", year, int(month))
	days := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()

	daily := make([]int, days)
	breakdown := make(map[string]int, days)
	peak := 1
	for d := 1; d <= days; d++ {
		n := a.Tickets.ByDay[fmt.Sprintf("%s-%02d", key, d)]
		daily[d-1] = n
		breakdown[strconv.Itoa(d)] = n
		if n > daily[peak-1] {
			peak = d
		}
	}
	total := a.Tickets.ByMonth[key]

	r := MonthlyReport{
		Period:           key,
		TotalTickets:     total,
		DailyBreakdown:   breakdown,
		AvgTicketsPerDay: round1(float64(total) / float64(days)),
		PeakDay:          peak,
		Trends:           Trends(daily),
		GeneratedAt:      m.clock.Now(),
	}

	if m.cfg.ReportDir != "" {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return r, err
		}
		if err := os.MkdirAll(m.cfg.ReportDir, 0o755); err != nil {
			return r, err
		}
		path := filepath.Join(m.cfg.ReportDir, "monthly-"+key+".json")
		if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			return r, fmt.Errorf("write monthly report: %w", err)
		}
	}
	return r, nil
}

type ExportKind string

const (
	ExportTickets ExportKind = "tickets"
	ExportStaff   ExportKind = "staff"
	ExportDaily   ExportKind = "daily"
)

// ExportCSV renders one of the tickets, staff or daily tables as CSV.
func (m *Manager) ExportCSV(kind ExportKind) ([]byte, error) {
	a := m.Snapshot()
	var rows [][]string

	switch kind {
	case ExportTickets:
		top := topKey(a.Tickets.ByCategory)
		open, closed := strconv.Itoa(a.Tickets.Open), strconv.Itoa(a.Tickets.Closed)
		rows = append(rows, []string{"Date", "Total", "Open", "Closed", "Top Category"})
		for _, day := range slices.Sorted(maps.Keys(a.Tickets.ByDay)) {
			rows = append(rows, []string{day, strconv.Itoa(a.Tickets.ByDay[day]), open, closed, top})
		}
	case ExportStaff:
		rows = append(rows, []string{"Staff ID", "Tickets Handled", "Avg Response Time", "Avg Satisfaction"})
		for _, s := range m.StaffReport() {
			rows = append(rows, []string{
				s.StaffID,
				strconv.Itoa(s.TicketsHandled),
				s.AvgResponseTime,
				strconv.FormatFloat(s.AvgSatisfaction, 'f', -1, 64),
			})
		}
	case ExportDaily:
		rows = append(rows, []string{"Date", "Tickets Created"})
		for _, day := range slices.Sorted(maps.Keys(a.Tickets.ByDay)) {
			rows = append(rows, []string{day, strconv.Itoa(a.Tickets.ByDay[day])})
		}
	default:
		return nil, fmt.Errorf("unknown export %q", kind)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type Alert struct {
	Type    string `json:"type"`
	Metric  string `json:"metric"`
	Message string `json:"message"`
	Value   string `json:"value"`
}

// Alerts flags a slow average response (over 4h), low satisfaction (under
// 3.5, once any rating exists) and a high escalation rate (over 20%).
func (m *Manager) Alerts() []Alert {
	return alerts(computeMetrics(m.Snapshot()))
}

func alerts(met Metrics) []Alert {
	var out []Alert
	if met.AvgResponseTime > 4*time.Hour {
		out = append(out, Alert{
			Type:    "warning",
			Metric:  "response_time",
			Message: "average response time above 4 hours",
			Value:   priority.FormatDuration(met.AvgResponseTime),
		})
	}
	if met.Ratings > 0 && met.CustomerSatisfaction < 3.5 {
		out = append(out, Alert{
			Type:    "error",
			Metric:  "satisfaction",
			Message: "customer satisfaction below threshold",
			Value:   strconv.FormatFloat(round1(met.CustomerSatisfaction), 'f', -1, 64),
		})
	}
	if met.EscalationRate > 20 {
		out = append(out, Alert{
			Type:    "warning",
			Metric:  "escalation_rate",
			Message: "escalation rate above 20%",
			Value:   strconv.FormatFloat(round1(met.EscalationRate), 'f', -1, 64) + "%",
		})
	}
	return out
}

type Realtime struct {
	OpenTickets     int           `json:"open_tickets"`
	TotalTickets    int           `json:"total_tickets"`
	AvgResponseTime string        `json:"avg_response_time"`
	Satisfaction    float64       `json:"satisfaction"`
	Last24h         []PeriodCount `json:"last_24h"`
	Last7Days       []PeriodCount `json:"last_7_days"`
	ThisMonth       []PeriodCount `json:"this_month"`
	Alerts          []Alert       `json:"alerts"`
}

func (m *Manager) Realtime() Realtime {
	a := m.Snapshot()
	met := computeMetrics(a)
	now := m.clock.Now().In(m.cfg.Location)
	return Realtime{
		OpenTickets:     a.Tickets.Open,
		TotalTickets:    a.Tickets.Total,
		AvgResponseTime: priority.FormatDuration(met.AvgResponseTime),
		Satisfaction:    round1(met.CustomerSatisfaction),
		Last24h:         m.ByPeriod(Day, 1),
		Last7Days:       m.ByPeriod(Day, 7),
		ThisMonth:       m.ByPeriod(Month, now.Day()),
		Alerts:          alerts(met),
	}
}
