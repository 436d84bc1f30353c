package retrieval

import (
	"reflect"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"What is the pricing of our SaaS?", []string{"pricing", "saas"}},
		{"Go, go, GO!", []string{}},
		{"Launch launch checklist", []string{"launch", "checklist"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		if got := ExtractKeywords(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTopKeywords(t *testing.T) {
	got := TopKeywords("pricing model pricing churn pricing churn", 2)
	want := []string{"pricing", "churn"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopKeywords = %v, want %v", got, want)
	}
}
