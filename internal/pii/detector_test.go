package pii

import (
	"strings"
	"testing"

	"github.com/zeroveil/gateway/internal/domain"
)

func TestScanDetectsEachClass(t *testing.T) {
	d := NewDetector(DefaultConfig())

	cases := []struct {
		name  string
		text  string
		class Class
	}{
		{"ssn", "my ssn is 123-45-6789 ok", ClassSSN},
		{"credit card", "card 4111 1111 1111 1111 thanks", ClassCreditCard},
		{"email", "reach me at alice@example.com today", ClassEmail},
		{"phone", "call (415) 555-0123 after lunch", ClassPhone},
		{"ip address", "server at 10.0.0.1 is down", ClassIPAddress},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			matches := d.Scan(tc.text)
			if len(matches) == 0 {
				t.Fatalf("expected a %s match in %q", tc.class, tc.text)
			}
			found := false
			for _, m := range matches {
				if m.Class == tc.class {
					found = true
					if m.Start < 0 || m.End <= m.Start || m.End > len(tc.text) {
						t.Errorf("bad offsets [%d,%d) for %q", m.Start, m.End, tc.text)
					}
				}
			}
			if !found {
				t.Errorf("no %s match, got %v", tc.class, matches)
			}
		})
	}
}

func TestScanCleanText(t *testing.T) {
	d := NewDetector(DefaultConfig())
	if matches := d.Scan("the weather in Paris is mild this week"); len(matches) != 0 {
		t.Fatalf("expected no matches, got %v", matches)
	}
}

func TestScanDisabled(t *testing.T) {
	d := NewDetector(Config{Enabled: false, Classes: AllClasses})
	if matches := d.Scan("ssn 123-45-6789"); matches != nil {
		t.Fatalf("disabled detector returned %v", matches)
	}
}

func TestScanRestrictedClasses(t *testing.T) {
	d := NewDetector(Config{Enabled: true, Classes: []Class{ClassEmail}})
	if matches := d.Scan("ssn 123-45-6789"); len(matches) != 0 {
		t.Fatalf("ssn should not match with only email enabled, got %v", matches)
	}
	if matches := d.Scan("bob@example.com"); len(matches) != 1 {
		t.Fatalf("expected one email match, got %v", matches)
	}
}

func TestScanMessagesFirstOffendingIndex(t *testing.T) {
	d := NewDetector(DefaultConfig())
	msgs := []domain.Message{
		{Role: "system", Content: "you are a helpful assistant"},
		{Role: "user", Content: "email me at carol@example.com and 10.1.2.3"},
		{Role: "user", Content: "also 123-45-6789"},
	}

	idx, classes := d.ScanMessages(msgs)
	if idx != 1 {
		t.Fatalf("expected first offending index 1, got %d", idx)
	}
	if len(classes) != 2 {
		t.Fatalf("expected two distinct classes, got %v", classes)
	}
}

func TestScanMessagesClean(t *testing.T) {
	d := NewDetector(DefaultConfig())
	idx, classes := d.ScanMessages([]domain.Message{{Role: "user", Content: "hello"}})
	if idx != -1 || classes != nil {
		t.Fatalf("expected no findings, got idx=%d classes=%v", idx, classes)
	}
}

// Match results carry offsets only. A Match must never be able to reproduce
// the text it matched.
func TestMatchCarriesNoText(t *testing.T) {
	d := NewDetector(DefaultConfig())
	secret := "123-45-6789"
	matches := d.Scan("ssn " + secret)
	if len(matches) == 0 {
		t.Fatal("expected a match")
	}
	for _, m := range matches {
		if strings.Contains(string(m.Class), secret) {
			t.Fatal("match leaked text")
		}
	}
}
