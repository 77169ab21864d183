package rag

import (
	"fmt"
	"regexp"
	"strings"
)

const expansionPrompt = `You help search a person's professional portfolio (CV, bio, project write-ups).
Rewrite the user's question into %d alternative search queries that use different wording
or focus on different aspects of the same need. Output one query per line with no numbering,
bullets, quotes or commentary.`

const answerPrompt = `You answer questions about a person's professional portfolio.
Answer strictly from the numbered context passages below. Refer to passages by their marker, e.g. [1].
If the context does not contain the answer, say that the documents do not cover it; never guess
or use outside knowledge. Be concise and factual.`

const suggestionPrompt = `You are a recruiter or hiring manager reviewing the portfolio owner.
Given the last question, its answer and the supporting context, propose up to %d short follow-up
questions you would ask next to evaluate the candidate. Each must be answerable from a portfolio.
Output one question per line with no numbering or commentary.`

// DeclineMessage is the answer given when retrieval found nothing to ground on.
const DeclineMessage = "I couldn't find anything in the available documents that answers this question."

// FailureNotice is appended to an answer whose generation broke off.
const FailureNotice = "\n\n[The answer was interrupted and may be incomplete. Please try again.]"

func answerUserMessage(question, context string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s", context, question)
}

func suggestionUserMessage(question, answer, context string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer: %s", context, question, answer)
}

var listPrefix = regexp.MustCompile(`^\s*(?:[-*•]+|\(?\d+[.)])\s*`)

// parseLines turns a model's line-per-item reply into distinct items.
// Items equal (case-insensitively) to one of exclude are dropped.
func parseLines(text string, limit int, exclude ...string) []string {
	seen := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		seen[strings.ToLower(strings.TrimSpace(e))] = true
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = listPrefix.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"'`+"`")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
