package services

import (
	"testing"
)

func TestIsNearDuplicateFact(t *testing.T) {
	tests := []struct {
		name      string
		existing  string
		candidate string
		want      bool
	}{
		{
			name:      "Exact match",
			existing:  "User moved to Berlin in March",
			candidate: "User moved to Berlin in March",
			want:      true,
		},
		{
			name:      "Case-insensitive match",
			existing:  "USER MOVED TO BERLIN IN MARCH",
			candidate: "user moved to berlin in march",
			want:      true,
		},
		{
			name:      "Long facts with identical first 50 chars",
			existing:  "The user's favorite restaurant is the small Italian place on Oak Street",
			candidate: "The user's favorite restaurant is the small Italian bistro downtown",
			want:      true,
		},
		{
			name:      "High word overlap counts as duplicate",
			existing:  "enjoys hiking in the mountains every single weekend with friends",
			candidate: "enjoys hiking in the mountains every weekend",
			want:      true,
		},
		{
			name:      "Low overlap is a distinct fact",
			existing:  "works as a gardener",
			candidate: "allergic to peanuts and shellfish",
			want:      false,
		},
		{
			name:      "Shared common words below threshold",
			existing:  "the user likes the color blue",
			candidate: "the user has two cats and a dog named Rex",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNearDuplicateFact(tt.existing, tt.candidate); got != tt.want {
				t.Errorf("IsNearDuplicateFact(%q, %q) = %v, want %v", tt.existing, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestFactKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Short fact lowercased",
			input:    "Likes Tea",
			expected: "likes tea",
		},
		{
			name:     "Whitespace trimmed",
			input:    "  likes tea  ",
			expected: "likes tea",
		},
		{
			name:     "Long fact truncated to 50 chars",
			input:    "This is a deliberately long fact that keeps going well past the cutoff",
			expected: "this is a deliberately long fact that keeps going ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := factKey(tt.input); got != tt.expected {
				t.Errorf("factKey(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestWordOverlapRatio(t *testing.T) {
	tests := []struct {
		name      string
		existing  string
		candidate string
		want      float64
	}{
		{"Full overlap", "a b c", "a b c", 1.0},
		{"Half overlap", "a b", "a x", 0.5},
		{"No overlap", "a b c", "x y z", 0.0},
		{"Empty candidate", "a b c", "", 0.0},
		{"Denominator is candidate length", "a b c d e f g h", "a b", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wordOverlapRatio(tt.existing, tt.candidate); got != tt.want {
				t.Errorf("wordOverlapRatio(%q, %q) = %v, want %v", tt.existing, tt.candidate, got, tt.want)
			}
		})
	}
}
