package conversation

import (
	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/forms"
)

type confirmation int

const (
	unclear confirmation = iota
	affirmative
	negative
)

var (
	affirmativeWords = []string{"yes", "yeah", "yep", "yup", "correct", "right", "that's right", "confirm", "ok", "okay", "sure", "proceed"}
	negativeWords    = []string{"no", "nope", "nah", "wrong", "incorrect", "not right", "not correct", "different"}

	lackInfoPhrases = []string{
		"don't have", "dont have", "do not have",
		"don't know", "dont know", "do not know",
		"not sure", "unsure", "no idea",
		"don't remember", "dont remember",
		"can't find", "cant find", "cannot find",
		"not available", "unavailable", "idk",
	}
)

// classifyConfirmation reads a yes/no reply. Negative words are checked
// first so "that's not right" does not count as "right". Numbers only count
// as a bare menu answer: "1" confirms, "2" to "4" decline, and a digit inside
// a sentence ("yes, for 2 people") is ignored.
func classifyConfirmation(text string) confirmation {
	tokens := forms.Tokens(text)
	if forms.ContainsAny(tokens, negativeWords) {
		return negative
	}
	if forms.ContainsAny(tokens, affirmativeWords) {
		return affirmative
	}
	if ft, ok := forms.MenuChoice(text); ok {
		if ft == domain.FormTypes[0] {
			return affirmative
		}
		return negative
	}
	return unclear
}

func lacksInformation(text string) bool {
	return forms.ContainsAny(forms.Tokens(text), lackInfoPhrases)
}
