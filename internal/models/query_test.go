package models

import (
	"strings"
	"testing"
)

func TestAskRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *AskRequest
		wantErr bool
	}{
		{"empty question", &AskRequest{Question: "  "}, true},
		{"valid global", &AskRequest{Scope: "global", Question: "hello"}, false},
		{"defaults to global", &AskRequest{Question: "hello"}, false},
		{"project scope", &AskRequest{Scope: "project-42", Question: "x"}, false},
		{"path traversal", &AskRequest{Scope: "../etc", Question: "x"}, true},
		{"too long", &AskRequest{Question: strings.Repeat("a", MaxQuestionLength+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.req.Scope == "" {
				t.Error("expected scope to be defaulted")
			}
		})
	}
}

func TestAskRequest_ValidateTrims(t *testing.T) {
	r := &AskRequest{Question: "  how long?  "}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if r.Question != "how long?" {
		t.Errorf("question not trimmed: %q", r.Question)
	}
	if r.Scope != GlobalScope {
		t.Errorf("scope = %q, want %q", r.Scope, GlobalScope)
	}
}

func TestChunk_Before(t *testing.T) {
	a := &Chunk{DocumentID: "a", DocumentOrder: 0, Index: 3}
	b := &Chunk{DocumentID: "b", DocumentOrder: 1, Index: 0}
	c := &Chunk{DocumentID: "a", DocumentOrder: 0, Index: 4}
	if !a.Before(b) || b.Before(a) {
		t.Error("earlier document should come first")
	}
	if !a.Before(c) {
		t.Error("lower sequence index should come first")
	}
}
