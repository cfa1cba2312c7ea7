package priority

import "time"

// Sample is the slice of a ticket record the metrics need.
type Sample struct {
	Priority  Level
	CreatedAt time.Time
	ClosedAt  *time.Time
	Escalated bool
}

type Metrics struct {
	Distribution map[Level]int `json:"distribution"`
	// SLACompliance is the share of tickets per level that were closed
	// within their SLA, as a rounded percentage of all tickets at that level.
	SLACompliance map[Level]int    `json:"sla_compliance"`
	AvgResolution map[Level]string `json:"avg_resolution"`
	Escalations   int              `json:"escalations"`
}

func CalculateMetrics(samples []Sample, now time.Time) Metrics {
	m := Metrics{
		Distribution:  make(map[Level]int, len(Levels)),
		SLACompliance: make(map[Level]int, len(Levels)),
		AvgResolution: make(map[Level]string, len(Levels)),
	}
	for _, l := range Levels {
		m.Distribution[l] = 0
		m.SLACompliance[l] = 0
	}

	resolution := make(map[Level][]time.Duration, len(Levels))
	compliant := make(map[Level]int, len(Levels))

	for _, s := range samples {
		l := s.Priority
		if !l.Valid() {
			l = Medium
		}
		m.Distribution[l]++

		if s.ClosedAt != nil {
			resolution[l] = append(resolution[l], s.ClosedAt.Sub(s.CreatedAt))
			if !CheckSLA(l, s.CreatedAt, s.ClosedAt, now).Violated {
				compliant[l]++
			}
		}
		if s.Escalated {
			m.Escalations++
		}
	}

	for _, l := range Levels {
		times := resolution[l]
		if len(times) == 0 {
			m.AvgResolution[l] = "N/A"
		} else {
			var total time.Duration
			for _, d := range times {
				total += d
			}
			m.AvgResolution[l] = FormatDuration(total / time.Duration(len(times)))
		}
		if n := m.Distribution[l]; n > 0 {
			m.SLACompliance[l] = roundHalfUp(float64(compliant[l]) / float64(n) * 100)
		}
	}
	return m
}
