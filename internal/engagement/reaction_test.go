package engagement

import (
	"testing"
)

func TestParseReactionKind(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ReactionKind
		wantErr  bool
	}{
		{"like", "like", ReactionLike, false},
		{"upper case love", "LOVE", ReactionLove, false},
		{"padded laugh", "  laugh ", ReactionLaugh, false},
		{"dislike", "dislike", ReactionDislike, false},
		{"unknown", "angry", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReactionKind(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReactionKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !IsCode(err, CodeInvalidKind) {
				t.Errorf("ParseReactionKind(%q) code = %v, want %v", tt.input, CodeOf(err), CodeInvalidKind)
			}
			if got != tt.expected {
				t.Errorf("ParseReactionKind(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestReactionSet_Toggle(t *testing.T) {
	tests := []struct {
		name       string
		calls      []ReactionKind
		transition ReactionTransition
		final      ReactionKind
	}{
		{"first reaction adds", []ReactionKind{ReactionLike}, ReactionAdded, ReactionLike},
		{"same kind toggles off", []ReactionKind{ReactionLike, ReactionLike}, ReactionRemoved, ""},
		{"different kind replaces", []ReactionKind{ReactionLike, ReactionLaugh}, ReactionChanged, ReactionLaugh},
		{"toggle off then add", []ReactionKind{ReactionLove, ReactionLove, ReactionDislike}, ReactionAdded, ReactionDislike},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := ReactionSet{}
			var out ReactionOutcome
			for _, k := range tt.calls {
				var err error
				out, err = set.Toggle("u1", k)
				if err != nil {
					t.Fatalf("Toggle(%v) error = %v", k, err)
				}
				if len(set) > 1 {
					t.Fatalf("set holds %d entries for one user", len(set))
				}
			}
			if out.Transition != tt.transition {
				t.Errorf("last transition = %v, want %v", out.Transition, tt.transition)
			}
			if got := set.Of("u1"); got != tt.final {
				t.Errorf("Of(u1) = %v, want %v", got, tt.final)
			}
		})
	}
}

func TestReactionSet_ToggleRejectsUnknownKind(t *testing.T) {
	set := ReactionSet{}
	if _, err := set.Toggle("u1", ReactionKind("meh")); !IsCode(err, CodeValidation) {
		t.Fatalf("Toggle(meh) error = %v, want validation class", err)
	}
	if len(set) != 0 {
		t.Errorf("set mutated on invalid kind: %v", set)
	}
}

func TestReactionSet_LastNonToggleOffWins(t *testing.T) {
	seq := []ReactionKind{ReactionLike, ReactionLove, ReactionLove, ReactionLaugh, ReactionDislike, ReactionLike}
	set := ReactionSet{}
	var want ReactionKind
	for _, k := range seq {
		out, err := set.Toggle("u1", k)
		if err != nil {
			t.Fatalf("Toggle(%v) error = %v", k, err)
		}
		want = out.Current
	}
	if got := set.Of("u1"); got != want || got != ReactionLike {
		t.Errorf("final reaction = %v, want %v", got, ReactionLike)
	}
}

func TestReactionSet_Counts(t *testing.T) {
	set := ReactionSet{"a": ReactionLike, "b": ReactionLike, "c": ReactionLaugh}
	counts := set.Counts()
	if len(counts) != len(ReactionKinds) {
		t.Fatalf("Counts() has %d kinds, want %d", len(counts), len(ReactionKinds))
	}
	expected := map[ReactionKind]int{ReactionLike: 2, ReactionLove: 0, ReactionDislike: 0, ReactionLaugh: 1}
	for k, n := range expected {
		if counts[k] != n {
			t.Errorf("Counts()[%v] = %d, want %d", k, counts[k], n)
		}
	}
}
