package usecase

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/satriahrh/cocoa-fruit/relay/domain"
)

// Category is one entry of the award catalog recommendations are drawn from.
type Category struct {
	ID          string
	Name        string
	Description string
	ProgramName string
	ProgramCode string
	IsFree      bool
	Keywords    []string
}

func DefaultCatalog() []Category {
	return []Category{
		{
			ID: "tech-innovation", Name: "Innovation in Technology", ProgramCode: "ABA",
			ProgramName: "American Business Awards",
			Description: "New products and services built on software, AI or hardware.",
			Keywords:    []string{"ai", "software", "product", "launch", "platform", "technology", "innovation", "machine"},
		},
		{
			ID: "customer-service", Name: "Customer Service Department of the Year", ProgramCode: "SCS",
			ProgramName: "Stevie Awards for Sales & Customer Service",
			Description: "Teams that measurably improved the customer experience.",
			Keywords:    []string{"customer", "support", "service", "satisfaction", "nps", "contact", "center"},
		},
		{
			ID: "women-leadership", Name: "Female Executive of the Year", ProgramCode: "SWB", IsFree: true,
			ProgramName: "Stevie Awards for Women in Business",
			Description: "Women leaders driving growth in their organization.",
			Keywords:    []string{"women", "female", "leader", "executive", "founder", "ceo"},
		},
		{
			ID: "marketing-campaign", Name: "Marketing Campaign of the Year", ProgramCode: "ABA",
			ProgramName: "American Business Awards",
			Description: "Campaigns with clear reach and conversion results.",
			Keywords:    []string{"marketing", "campaign", "brand", "social", "advertising", "content"},
		},
		{
			ID: "startup", Name: "Startup of the Year", ProgramCode: "IBA",
			ProgramName: "International Business Awards",
			Description: "Young companies with early traction.",
			Keywords:    []string{"startup", "founded", "seed", "growth", "funding", "early"},
		},
		{
			ID: "csr", Name: "Corporate Social Responsibility Program", ProgramCode: "IBA",
			ProgramName: "International Business Awards",
			Description: "Community, sustainability and social impact programs.",
			Keywords:    []string{"community", "sustainability", "impact", "nonprofit", "volunteer", "environment", "social"},
		},
		{
			ID: "hr-workplace", Name: "Great Employer of the Year", ProgramCode: "SGE", IsFree: true,
			ProgramName: "Stevie Awards for Great Employers",
			Description: "Workplaces known for culture and employee development.",
			Keywords:    []string{"employee", "culture", "hiring", "workplace", "training", "hr", "team"},
		},
		{
			ID: "sales-team", Name: "Sales Team of the Year", ProgramCode: "SCS",
			ProgramName: "Stevie Awards for Sales & Customer Service",
			Description: "Sales organizations that beat their targets.",
			Keywords:    []string{"sales", "revenue", "quota", "deals", "pipeline", "growth"},
		},
	}
}

// Recommend scores every category by keyword overlap with text and returns
// the matches, best first, at most limit of them.
func Recommend(catalog []Category, text string, limit int) []domain.Recommendation {
	words := tokenize(text)
	var out []domain.Recommendation
	for _, cat := range catalog {
		var reasons []string
		for _, kw := range cat.Keywords {
			if words[kw] {
				reasons = append(reasons, "Mentions "+kw)
			}
		}
		if len(reasons) == 0 {
			continue
		}
		// Two hits already make a strong match; more push toward 1.
		score := 1 - math.Pow(0.5, float64(len(reasons)))
		out = append(out, domain.Recommendation{
			CategoryID:      cat.ID,
			CategoryName:    cat.Name,
			Description:     cat.Description,
			ProgramName:     cat.ProgramName,
			ProgramCode:     cat.ProgramCode,
			SimilarityScore: math.Round(score*100) / 100,
			MatchReasons:    reasons,
			IsFree:          cat.IsFree,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SimilarityScore > out[j].SimilarityScore
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func tokenize(text string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return words
}
