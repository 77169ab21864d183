// Package cli provides output formatting for the kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/scope"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text", "json" or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

const rule = "─────────────────────────────────────────────────────────"

// WriteNotices prints degraded-path notices above an answer.
func WriteNotices(w io.Writer, notices []string) {
	for _, n := range notices {
		fmt.Fprintf(w, "! %s\n", n)
	}
	if len(notices) > 0 {
		fmt.Fprintln(w)
	}
}

// WriteExchangeFooter prints what follows a streamed answer: sources and
// suggested follow-up questions.
func WriteExchangeFooter(w io.Writer, ex *models.Exchange) {
	fmt.Fprintln(w)
	if len(ex.Citations) > 0 {
		fmt.Fprintln(w, rule)
		fmt.Fprintln(w, "Sources:")
		for _, c := range ex.Citations {
			fmt.Fprintf(w, "  [%d] %s\n", c.Marker, c.DocumentName)
			if c.Excerpt != "" {
				fmt.Fprintf(w, "      %s\n", utils.Truncate(strings.Join(strings.Fields(c.Excerpt), " "), 160))
			}
		}
	}
	if len(ex.FollowUps) > 0 {
		fmt.Fprintln(w, rule)
		fmt.Fprintln(w, "You could also ask:")
		for _, q := range ex.FollowUps {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
}

// WriteExchange writes a finished exchange to w in the given format.
func WriteExchange(w io.Writer, ex *models.Exchange, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ex)
	}
	WriteNotices(w, ex.Notices)
	fmt.Fprintln(w, ex.Answer)
	WriteExchangeFooter(w, ex)
	return nil
}

// WriteStatus writes the live scopes to w in the given format.
func WriteStatus(w io.Writer, scopes []scope.Status, format OutputFormat) error {
	if format == OutputJSON {
		if scopes == nil {
			scopes = []scope.Status{}
		}
		return writeJSON(w, scopes)
	}
	if len(scopes) == 0 {
		fmt.Fprintln(w, "No scopes indexed.")
		return nil
	}
	for _, s := range scopes {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Scope: %s (generation %d)\n", s.Scope, s.Generation)
		fmt.Fprintf(w, "Documents: %d | Chunks: %d | Model: %s\n", len(s.Documents), s.Chunks, s.EmbeddingModel)
		fmt.Fprintf(w, "Built: %s\n", s.BuiltAt.Format(time.RFC3339))
		for _, d := range s.Documents {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
