package intent_test

import (
	"testing"

	"github.com/callyx/callyx/internal/intent"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want intent.Intent
	}{
		// Goodbye — always wins, even alongside a confirm word.
		{"goodbye", intent.Goodbye},
		{"okay, goodbye", intent.Goodbye},
		{"Bye!", intent.Goodbye},
		{"I think that's all, thanks", intent.Goodbye},
		{"please end the call", intent.Goodbye},
		{"talk later", intent.Goodbye},

		// Word boundaries: "bye" inside "maybe" is not a farewell.
		{"maybe tomorrow works better", intent.Other},

		// Greeting.
		{"hello", intent.Greeting},
		{"Hi, I need some help", intent.Greeting},
		{"good morning", intent.Greeting},

		// Short confirmations and denials.
		{"yes please", intent.Confirm},
		{"sure, go ahead", intent.Confirm},
		{"nope", intent.Deny},
		{"not right now", intent.Deny},

		// Long sentences containing a confirm word are not answers.
		{"i am sure you can help me with the billing issue", intent.Other},

		// Questions.
		{"are you open on sundays?", intent.Question},
		{"what are your business hours", intent.Question},
		{"how much does the premium plan cost", intent.Question},

		// Actions.
		{"schedule a callback for tomorrow", intent.Action},
		{"send me the contract", intent.Action},

		// Fallback.
		{"my account number is 12345", intent.Other},
		{"", intent.Other},
		{"...", intent.Other},
	}

	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			if got := intent.Classify(tc.text); got != tc.want {
				t.Errorf("Classify(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestClassifyConfirmation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want intent.Intent
	}{
		// Plain affirmatives.
		{"yes", intent.Confirm},
		{"Yes please.", intent.Confirm},
		{"yeah", intent.Confirm},
		{"sure thing", intent.Confirm},
		{"go ahead", intent.Confirm},
		{"that's fine", intent.Confirm},
		{"absolutely", intent.Confirm},
		{"ok do it", intent.Confirm},

		// Plain negatives.
		{"no", intent.Deny},
		{"No thanks", intent.Deny},
		{"nah", intent.Deny},
		{"never mind", intent.Deny},
		{"hold on", intent.Deny},
		{"cancel", intent.Deny},
		{"i'll think about it", intent.Deny},

		// Negation guards: these contain confirm words but must not confirm.
		{"not right now", intent.Deny},
		{"no that's fine", intent.Deny},
		{"not really", intent.Deny},

		// Fuzzy single-word matches for STT slips.
		{"yess", intent.Confirm},
		{"shure", intent.Confirm},
		{"yesss", intent.Confirm},

		// Homophone of "no" in a yes/no context reads as a denial.
		{"know", intent.Deny},

		// Everything else is a fresh utterance.
		{"what about the pricing", intent.Other},
		{"i want to change my address on file", intent.Other},
		{"", intent.Other},
		{"hmm", intent.Other},
	}

	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			if got := intent.ClassifyConfirmation(tc.text); got != tc.want {
				t.Errorf("ClassifyConfirmation(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}
