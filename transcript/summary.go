package transcript

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

var stopwords = toSet(
	"el", "la", "de", "que", "y", "a", "en", "un", "es", "se", "no", "te", "lo", "le", "da", "su",
	"por", "son", "con", "para", "al", "del", "me", "mi", "si", "ya", "pero", "más", "muy", "yo",
	"tu", "he", "ha", "has", "the", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with",
	"by", "is", "are", "was", "were", "be", "been", "have", "had", "do", "does", "did", "will",
	"would", "could", "should", "may", "might", "can", "must",
)

var (
	positiveWords = toSet("gracias", "perfecto", "excelente", "genial", "bien", "bueno", "solved", "fixed",
		"working", "thanks", "perfect", "great", "good", "excellent")
	negativeWords = toSet("problema", "error", "mal", "falla", "bug", "issue", "broken", "wrong", "bad",
		"terrible", "awful", "hate")
)

type issueBucket struct {
	name     string
	keywords []string
}

// Order matters: ties go to the earlier bucket.
var issueBuckets = []issueBucket{
	{"technical", []string{"error", "bug", "problema", "falla", "no funciona", "broken", "issue", "crash"}},
	{"billing", []string{"pago", "factura", "cobro", "subscription", "payment", "billing", "invoice"}},
	{"account", []string{"cuenta", "password", "login", "access", "account", "registro", "sign up"}},
	{"feature", []string{"sugerencia", "feature", "improvement", "suggestion", "new", "add"}},
	{"general", []string{"pregunta", "question", "help", "ayuda", "como", "how", "what", "que"}},
}

var satisfactionWords = []struct {
	score int
	words []string
}{
	{5, []string{"excelente", "perfecto", "amazing", "perfect", "excellent"}},
	{4, []string{"bueno", "bien", "good", "nice", "helpful"}},
	{3, []string{"ok", "acceptable", "fine"}},
	{2, []string{"malo", "lento", "slow", "bad"}},
	{1, []string{"terrible", "awful", "horrible", "worst"}},
}

func toSet(words ...string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}

type Keyword struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

type Sentiment struct {
	Sentiment     string  `json:"sentiment"`
	PositiveCount int     `json:"positive_count"`
	NegativeCount int     `json:"negative_count"`
	Score         float64 `json:"score"`
}

type Classification struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

type Summary struct {
	IssueType          string     `json:"issue_type"`
	Confidence         float64    `json:"confidence"`
	MainKeywords       []Keyword  `json:"main_keywords"`
	Sentiment          Sentiment  `json:"sentiment"`
	QuickSummary       string     `json:"quick_summary"`
	RecommendedActions []string   `json:"recommended_actions"`
	SatisfactionScore  float64    `json:"satisfaction_score"`
	ResponseSpeed      string     `json:"response_speed"`
	Complexity         Complexity `json:"complexity"`
}

func Summarize(msgs []Message, md Metadata) Summary {
	class := Classify(msgs)
	keywords := Keywords(msgs)
	if len(keywords) > 10 {
		keywords = keywords[:10]
	}
	speed := "slow"
	if md.ResponseTime != nil {
		speed = "fast"
	}
	return Summary{
		IssueType:          class.Type,
		Confidence:         class.Confidence,
		MainKeywords:       keywords,
		Sentiment:          AnalyzeSentiment(msgs),
		QuickSummary:       QuickSummary(msgs, md),
		RecommendedActions: Recommendations(md),
		SatisfactionScore:  SatisfactionScore(msgs),
		ResponseSpeed:      speed,
		Complexity:         AssessComplexity(md),
	}
}

var nonWord = regexp.MustCompile(`[^\w\s]`)
var digitsOnly = regexp.MustCompile(`^\d+$`)

// Keywords counts words longer than three characters, skipping stopwords
// and numbers. Most frequent first; ties keep first-seen order.
func Keywords(msgs []Message) []Keyword {
	counts := map[string]int{}
	var order []string
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		for _, w := range strings.Fields(nonWord.ReplaceAllString(strings.ToLower(m.Content), " ")) {
			if utf8.RuneCountInString(w) <= 3 || stopwords[w] || digitsOnly.MatchString(w) {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}

	out := make([]Keyword, len(order))
	for i, w := range order {
		out[i] = Keyword{Word: w, Count: counts[w]}
	}
	slices.SortStableFunc(out, func(a, b Keyword) int { return cmp.Compare(b.Count, a.Count) })
	return out
}

// AnalyzeSentiment counts exact positive and negative words. The score is
// normalised per ten words.
func AnalyzeSentiment(msgs []Message) Sentiment {
	var s Sentiment
	total := 0
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		words := strings.Fields(strings.ToLower(m.Content))
		total += len(words)
		for _, w := range words {
			if positiveWords[w] {
				s.PositiveCount++
			}
			if negativeWords[w] {
				s.NegativeCount++
			}
		}
	}

	switch {
	case s.PositiveCount > s.NegativeCount:
		s.Sentiment = "positive"
	case s.NegativeCount > s.PositiveCount:
		s.Sentiment = "negative"
	default:
		s.Sentiment = "neutral"
	}
	s.Score = float64(s.PositiveCount-s.NegativeCount) / math.Max(1, float64(total)/10)
	return s
}

// Classify scores each issue bucket by keyword hits per message. Without
// any hit the result is "technical" with confidence 0.5.
func Classify(msgs []Message) Classification {
	scores := make([]int, len(issueBuckets))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		content := strings.ToLower(m.Content)
		for i, b := range issueBuckets {
			for _, k := range b.keywords {
				if strings.Contains(content, k) {
					scores[i]++
				}
			}
		}
	}

	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	conf := 0.5
	if scores[best] > 0 {
		conf = math.Min(1, float64(scores[best])/5)
	}
	return Classification{Type: issueBuckets[best].name, Confidence: conf}
}

// QuickSummary is a one-paragraph description of who opened the ticket,
// what they asked and how the conversation went.
func QuickSummary(msgs []Message, md Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s ticket opened by user %s. ", md.Category, md.Creator)

	for _, m := range msgs {
		if m.AuthorID != md.Creator {
			continue
		}
		if m.Content != "" {
			excerpt, ellipsis := m.Content, ""
			if utf8.RuneCountInString(excerpt) > 100 {
				excerpt, ellipsis = string([]rune(excerpt)[:100]), "..."
			}
			fmt.Fprintf(&b, "Initial problem: %q. ", excerpt+ellipsis)
		}
		break
	}

	fmt.Fprintf(&b, "The conversation lasted %s with %d messages between %d participants.",
		md.Duration.Formatted, md.Statistics.TotalMessages, md.Statistics.UniqueParticipants)
	if md.ClosedAt != nil {
		fmt.Fprintf(&b, " Resolution: %s", md.Resolution)
	}
	return b.String()
}

const (
	RecommendFasterResponse   = "Improve the staff's first response time"
	RecommendEarlyEscalation  = "Consider escalating complex tickets sooner"
	RecommendTemplates        = "Add response templates for similar cases"
	RecommendReviewEscalation = "Review the escalation process to avoid confusion"
	RecommendNone             = "Ticket handled efficiently"
)

// Recommendations applies the fixed thresholds: first response over an
// hour, duration over a day, more than 50 messages, more than 5
// participants.
func Recommendations(md Metadata) []string {
	var out []string
	if md.ResponseTime != nil && md.ResponseTime.Millis > time.Hour.Milliseconds() {
		out = append(out, RecommendFasterResponse)
	}
	if md.Duration.Millis > (24 * time.Hour).Milliseconds() {
		out = append(out, RecommendEarlyEscalation)
	}
	if md.Statistics.TotalMessages > 50 {
		out = append(out, RecommendTemplates)
	}
	if md.Statistics.UniqueParticipants > 5 {
		out = append(out, RecommendReviewEscalation)
	}
	if len(out) == 0 {
		out = append(out, RecommendNone)
	}
	return out
}

// SatisfactionScore averages the score of every satisfaction word found,
// rounded to one decimal. 3.5 when none appear.
func SatisfactionScore(msgs []Message) float64 {
	total, count := 0, 0
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		content := strings.ToLower(m.Content)
		for _, level := range satisfactionWords {
			for _, w := range level.words {
				if strings.Contains(content, w) {
					total += level.score
					count++
				}
			}
		}
	}
	if count == 0 {
		return 3.5
	}
	return math.Round(float64(total)/float64(count)*10) / 10
}

// AssessComplexity counts the factors duration over a day, more than 30
// messages, more than 3 participants and more than 5 attachments.
func AssessComplexity(md Metadata) Complexity {
	n := 0
	if md.Duration.Millis > (24 * time.Hour).Milliseconds() {
		n++
	}
	if md.Statistics.TotalMessages > 30 {
		n++
	}
	if md.Statistics.UniqueParticipants > 3 {
		n++
	}
	if md.Statistics.TotalAttachments > 5 {
		n++
	}
	switch {
	case n >= 3:
		return ComplexityHigh
	case n >= 2:
		return ComplexityMedium
	}
	return ComplexityLow
}
