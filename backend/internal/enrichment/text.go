package enrichment

import (
	"strings"

	"nexus/backend/internal/constants"
	"nexus/backend/internal/graph"
)

const systemPrompt = "You are an expert at creating searchable profile summaries. " +
	"Your summaries are packed with relevant keywords that help people find professionals through semantic search. " +
	"Focus on job titles, skills, technologies, industries, and topics."

const promptTemplate = `Analyze this social profile and its posts to create a HIGHLY SEARCHABLE summary.

Your goal: Create a summary packed with KEYWORDS and PHRASES that someone might search to find this person.

Profile Data:
%PROFILE%
%POSTS%

INSTRUCTIONS:
1. Extract and include: job titles, company names, industries, technologies, skills, interests, topics they discuss
2. Include relevant keywords like: "AI researcher", "startup founder", "machine learning engineer", "venture capitalist", "climate tech"
3. Mention specific technologies, frameworks, or tools they work with
4. Include their location and any affiliations (universities, companies, organizations)
5. Note their expertise areas and what they're known for

FORMAT:
- Write 3-4 sentences that are DENSE with searchable keywords
- Then add a "Keywords:" line at the end with 10-15 comma-separated searchable terms

KEYWORD-RICH SUMMARY:`

// ProfileText is the plain searchable rendering of a profile
func ProfileText(p *graph.Profile) string {
	var parts []string
	if p.DisplayName != "" {
		parts = append(parts, p.DisplayName)
	}
	if p.Handle != "" {
		parts = append(parts, "@"+p.Handle)
	}
	if p.Bio != "" {
		parts = append(parts, p.Bio)
	}
	if p.Location != "" {
		parts = append(parts, "Location: "+p.Location)
	}
	if p.FollowersCount > constants.InfluentialFollowerCount {
		parts = append(parts, "influential user")
	}
	if p.Verified {
		parts = append(parts, "verified account")
	}
	return strings.Join(parts, " ")
}

// FallbackText is used when the summarizer is unavailable
func FallbackText(p *graph.Profile, posts []string) string {
	return ProfileText(p) + postsSection(posts)
}

func buildPrompt(p *graph.Profile, posts []string) string {
	r := strings.NewReplacer("%PROFILE%", ProfileText(p), "%POSTS%", postsSection(posts))
	return r.Replace(promptTemplate)
}

func postsSection(posts []string) string {
	if len(posts) == 0 {
		return ""
	}
	if len(posts) > constants.SummaryPostCount {
		posts = posts[:constants.SummaryPostCount]
	}
	return "\n\nRecent Posts:\n" + strings.Join(posts, "\n---\n")
}
