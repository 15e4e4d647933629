package goals

import (
	"context"
	"regexp"
	"strings"

	"github.com/Olwiba/KoruClub/internal/llm"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

const extractSystemPrompt = `You read one chat message from a member of a goal
accountability group. List every concrete goal or commitment the message
states, one per line, rephrased as a short imperative. Output nothing else.
If the message states no goal, output an empty response.`

// Extractor pulls goal statements out of free-text chat messages. An LLM
// does the heavy lifting when configured; pattern matching covers the rest.
// Extraction is best effort and never fails the message path.
type Extractor struct {
	llm *llm.Client
	log logx.Logger
}

func NewExtractor(client *llm.Client, log logx.Logger) *Extractor {
	return &Extractor{llm: client, log: log}
}

// Extract returns the goal statements found in text, possibly none.
func (e *Extractor) Extract(ctx context.Context, text string) []string {
	if e.llm.Enabled() {
		out, err := e.llm.Complete(ctx, extractSystemPrompt, text)
		if err == nil {
			return splitGoalLines(out)
		}
		e.log.Warn("llm extraction failed; using pattern fallback", logx.Err(err))
	}
	return extractByPattern(text)
}

func splitGoalLines(out string) []string {
	var goals []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•\t "))
		if line != "" {
			goals = append(goals, line)
		}
	}
	return goals
}

var goalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy goal (?:is|for this sprint is)\s+(?:to\s+)?(.+)`),
	regexp.MustCompile(`(?i)\bi want to\s+(.+)`),
	regexp.MustCompile(`(?i)\bi will\s+(.+)`),
	regexp.MustCompile(`(?i)\bi(?:'|’)m going to\s+(.+)`),
	regexp.MustCompile(`(?i)\bi plan to\s+(.+)`),
}

var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)`)

// extractByPattern scans line by line: capture phrases anywhere in a line,
// or any bulleted item.
func extractByPattern(text string) []string {
	var goals []string
	for _, line := range strings.Split(text, "\n") {
		if m := bulletPrefix.FindStringSubmatch(line); m != nil {
			if g := cleanGoal(m[1]); g != "" {
				goals = append(goals, g)
			}
			continue
		}
		for _, p := range goalPatterns {
			if m := p.FindStringSubmatch(line); m != nil {
				if g := cleanGoal(m[1]); g != "" {
					goals = append(goals, g)
				}
				break
			}
		}
	}
	return goals
}

func cleanGoal(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!?,;: ")
	if len(s) < 3 {
		return ""
	}
	return s
}
