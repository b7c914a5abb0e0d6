package domain

import (
	"fmt"
	"net/http"
	"testing"
)

func TestParseVariant(t *testing.T) {
	cases := map[string]Variant{
		"count-the-fruit":         VariantCountTheFruit,
		"find-the-missing-letter": VariantFindMissingLetter,
		"name-the-color":          VariantNameTheColor,
		"lesson1":                 VariantUnknown,
		"":                        VariantUnknown,
	}
	for content, want := range cases {
		if got := ParseVariant(content); got != want {
			t.Fatalf("ParseVariant(%q) = %v, want %v", content, got, want)
		}
	}
	for _, v := range Variants {
		if ParseVariant(v.String()) != v {
			t.Fatalf("variant %v does not round trip", v)
		}
	}
}

func TestQuestionMatches(t *testing.T) {
	numeric := QuestionItem{CorrectAnswer: "4", Numeric: true}
	if !numeric.Matches(" 4 ") {
		t.Fatalf("expected padded integer to match")
	}
	if numeric.Matches("four") || numeric.Matches("5") {
		t.Fatalf("expected non-matching numeric answers to fail")
	}

	text := QuestionItem{CorrectAnswer: "Red", Options: []string{"Red", "Blue"}}
	if !text.Matches("Red") {
		t.Fatalf("expected exact string to match")
	}
	if text.Matches("red") || text.Matches("Red ") {
		t.Fatalf("string answers must match exactly")
	}
}

func TestRemoteErrorPermanent(t *testing.T) {
	cases := []struct {
		code      int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		err := fmt.Errorf("wrapped: %w", &RemoteError{Op: "submit final score", StatusCode: tc.code})
		if got := IsPermanent(err); got != tc.permanent {
			t.Fatalf("status %d: expected permanent=%v, got %v", tc.code, tc.permanent, got)
		}
	}
}
