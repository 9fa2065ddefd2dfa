package title

import "testing"

func TestFromFirstMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "New chat"},
		{"whitespace only", "   \t\n ", "New chat"},
		{"single word", "Hello", "Hello"},
		{"six words fit", "one two three four five six", "one two three four five six"},
		{"seven words truncated", "one two three four five six seven", "one two three four five six…"},
		{"surrounding whitespace trimmed", "  Hello there  ", "Hello there"},
		{"collapsed whitespace marks truncation", "a  b", "a b…"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromFirstMessage(tc.in); got != tc.want {
				t.Errorf("FromFirstMessage(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFromFirstMessageIsStable(t *testing.T) {
	// Deriving twice from the same input never changes the result.
	first := FromFirstMessage("what is the capital of Sweden exactly")
	second := FromFirstMessage("what is the capital of Sweden exactly")
	if first != second {
		t.Errorf("title derivation not stable: %q != %q", first, second)
	}
}
