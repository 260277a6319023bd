package topics

import "strings"

// DefaultTopic is assigned when nothing else matches
const DefaultTopic = "General Tech"

const defaultConfidence = 0.3

// Topic is a keyword bucket with its display colour
type Topic struct {
	Name     string   `json:"name"`
	Color    string   `json:"color"`
	Keywords []string `json:"-"`
}

// All lists the buckets in priority order; on equal scores the earlier one wins.
var All = []Topic{
	{"AI & Machine Learning", "#8b5cf6", []string{"ai", "artificial intelligence", "machine learning", "ml", "deep learning", "llm", "gpt", "neural", "data science"}},
	{"Crypto & Web3", "#f59e0b", []string{"crypto", "blockchain", "web3", "nft", "defi", "ethereum", "bitcoin", "token", "dao"}},
	{"Startups & Founders", "#ef4444", []string{"founder", "ceo", "startup", "entrepreneur", "building", "launched", "cofounder", "indie hacker"}},
	{"Design & Creative", "#ec4899", []string{"designer", "design", "ui", "ux", "product design", "creative", "visual", "illustration", "brand"}},
	{"Engineering", "#3b82f6", []string{"engineer", "developer", "software", "code", "programming", "backend", "frontend", "full stack", "devops"}},
	{"Finance & Investing", "#10b981", []string{"investor", "vc", "venture capital", "finance", "trading", "markets", "investment", "angel"}},
	{"Marketing & Growth", "#f97316", []string{"marketing", "growth", "seo", "content", "social media", "brand", "community", "product marketing"}},
	{"Research & Academia", "#6366f1", []string{"researcher", "phd", "professor", "academic", "research", "scientist", "scholar", "university"}},
	{"Media & Content", "#14b8a6", []string{"writer", "journalist", "content creator", "podcaster", "youtuber", "blogger", "author", "editor"}},
	{DefaultTopic, "#6b7280", []string{"tech", "technology", "innovation", "digital", "software", "product", "saas"}},
}

// Classify assigns the best matching topic to a bio and summary. Keywords
// match as substrings of the lowercased text. Confidence is twice the share
// of the bucket's keywords found, capped at 1.
func Classify(bio, summary string) (string, float64) {
	if bio == "" && summary == "" {
		return DefaultTopic, defaultConfidence
	}
	text := strings.ToLower(bio + " " + summary)

	best, bestScore := "", 0.0
	for _, t := range All {
		hits := 0
		for _, kw := range t.Keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		if score := float64(hits) / float64(len(t.Keywords)); score > bestScore {
			best, bestScore = t.Name, score
		}
	}
	if best == "" {
		return DefaultTopic, defaultConfidence
	}
	return best, min(bestScore*2, 1.0)
}

// Colors maps topic names to their display colour
func Colors() map[string]string {
	colors := make(map[string]string, len(All))
	for _, t := range All {
		colors[t.Name] = t.Color
	}
	return colors
}

// Names returns the topic names in priority order
func Names() []string {
	names := make([]string, len(All))
	for i, t := range All {
		names[i] = t.Name
	}
	return names
}
