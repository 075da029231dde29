package memory

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestTurnValidate(t *testing.T) {
	valid := Turn{
		ID:        "t1",
		SessionID: "s1",
		Sequence:  0,
		UserText:  "hello",
		AgentText: "hi",
		Timestamp: time.Now(),
	}

	tests := []struct {
		name    string
		mutate  func(*Turn)
		wantErr bool
	}{
		{"valid", func(*Turn) {}, false},
		{"missing id", func(tu *Turn) { tu.ID = "" }, true},
		{"missing session", func(tu *Turn) { tu.SessionID = "" }, true},
		{"negative sequence", func(tu *Turn) { tu.Sequence = -1 }, true},
		{"no text at all", func(tu *Turn) { tu.UserText, tu.AgentText = "", "" }, true},
		{"agent text only", func(tu *Turn) { tu.UserText = "" }, false},
		{"bad metadata value", func(tu *Turn) { tu.Metadata = Metadata{"x": []int{1}} }, true},
		{"primitive metadata", func(tu *Turn) {
			tu.Metadata = Metadata{"a": "s", "b": 3, "c": 1.5, "d": true, "e": time.Now()}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := valid
			tt.mutate(&turn)
			err := turn.Validate()
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSummaryRanges(t *testing.T) {
	s := Summary{ID: "s", SessionID: "sess", FromSeq: 3, ToSeq: 7, Text: "x"}

	if err := s.Validate(); err != nil {
		t.Fatalf("valid summary rejected: %v", err)
	}
	if !s.Covers(3) || !s.Covers(5) || !s.Covers(7) {
		t.Error("Covers should include range endpoints and interior")
	}
	if s.Covers(2) || s.Covers(8) {
		t.Error("Covers should exclude values outside the range")
	}
	if !s.Overlaps(0, 3) || !s.Overlaps(7, 9) || !s.Overlaps(4, 5) {
		t.Error("Overlaps should detect touching and contained ranges")
	}
	if s.Overlaps(0, 2) || s.Overlaps(8, 10) {
		t.Error("Overlaps should reject disjoint ranges")
	}

	bad := s
	bad.FromSeq, bad.ToSeq = 5, 3
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("inverted range should fail validation, got %v", err)
	}
}

func TestDocumentValidate(t *testing.T) {
	d := Document{DocumentID: "d1", ChunkID: "d1-0", Source: "notes.md", Text: "content"}
	if err := d.Validate(); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}
	d.Text = "   "
	if err := d.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("blank text should fail validation, got %v", err)
	}
}

func TestAgentDescriptorValidate(t *testing.T) {
	a := AgentDescriptor{Name: "math-agent", Version: "1.0", Description: "solves equations"}
	if err := a.Validate(); err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}
	a.Version = ""
	if err := a.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("missing version should fail validation, got %v", err)
	}
}

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []string
	}{
		{"none", []string{"no links here"}, nil},
		{
			"basic http and https",
			[]string{"see https://example.com/docs and http://other.org"},
			[]string{"http://other.org", "https://example.com/docs"},
		},
		{
			"trailing punctuation stripped",
			[]string{"read https://example.com/page."},
			[]string{"https://example.com/page"},
		},
		{
			"deduplicated across texts",
			[]string{"https://a.com", "again https://a.com"},
			[]string{"https://a.com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractURLs(tt.texts...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractURLs = %v, want %v", got, tt.want)
			}
		})
	}
}
