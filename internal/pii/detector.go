// Package pii implements a conservative, reject-only PII tripwire.
//
// The detector catches obvious patterns only: government id numbers, payment
// card numbers, email addresses, phone numbers, and IPv4 addresses. It prefers
// false positives over false negatives and never rewrites or forwards a
// "cleaned" version of the content. Matches carry the pattern class and byte
// offsets, never the matched text, so results are safe to log.
package pii

import (
	"regexp"

	"github.com/zeroveil/gateway/internal/domain"
)

// Class identifies a PII pattern class.
type Class string

const (
	ClassSSN        Class = "ssn"
	ClassCreditCard Class = "credit_card"
	ClassEmail      Class = "email"
	ClassPhone      Class = "phone"
	ClassIPAddress  Class = "ip_address"
)

var patterns = map[Class]*regexp.Regexp{
	ClassSSN:        regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`),
	ClassEmail:      regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	ClassPhone:      regexp.MustCompile(`(\(\d{3}\)\s?|\b\d{3}[-.\s]?)\d{3}[-.\s]?\d{4}\b`),
	ClassCreditCard: regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	ClassIPAddress:  regexp.MustCompile(`\b(\d{1,3}\.){3}\d{1,3}\b`),
}

// AllClasses lists every supported pattern class.
var AllClasses = []Class{ClassSSN, ClassCreditCard, ClassEmail, ClassPhone, ClassIPAddress}

// Config controls which classes are scanned. The gate is enabled by default;
// security here is opt-out, not opt-in.
type Config struct {
	Enabled bool
	Classes []Class
}

// DefaultConfig enables every pattern class.
func DefaultConfig() Config {
	return Config{Enabled: true, Classes: AllClasses}
}

// Match is a detected occurrence. The matched text is deliberately absent.
type Match struct {
	Class Class
	Start int
	End   int
}

// Detector scans message content for configured PII pattern classes.
type Detector struct {
	enabled bool
	active  map[Class]*regexp.Regexp
}

// NewDetector builds a detector from config. Unknown class names are ignored;
// an empty class list falls back to all classes.
func NewDetector(cfg Config) *Detector {
	active := make(map[Class]*regexp.Regexp)
	classes := cfg.Classes
	if len(classes) == 0 {
		classes = AllClasses
	}
	for _, c := range classes {
		if re, ok := patterns[c]; ok {
			active[c] = re
		}
	}
	return &Detector{enabled: cfg.Enabled, active: active}
}

// Enabled reports whether the detector scans at all.
func (d *Detector) Enabled() bool {
	return d.enabled
}

// Scan returns every match in text. Returns nil when the detector is disabled.
func (d *Detector) Scan(text string) []Match {
	if !d.enabled {
		return nil
	}
	var matches []Match
	for _, class := range AllClasses {
		re, ok := d.active[class]
		if !ok {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{Class: class, Start: loc[0], End: loc[1]})
		}
	}
	return matches
}

// ScanMessages scans each message and returns the distinct classes detected in
// the first offending message, plus its index. Returns (-1, nil) when clean.
func (d *Detector) ScanMessages(messages []domain.Message) (int, []Class) {
	if !d.enabled {
		return -1, nil
	}
	for i, msg := range messages {
		matches := d.Scan(msg.Content)
		if len(matches) == 0 {
			continue
		}
		seen := make(map[Class]bool)
		var classes []Class
		for _, m := range matches {
			if !seen[m.Class] {
				seen[m.Class] = true
				classes = append(classes, m.Class)
			}
		}
		return i, classes
	}
	return -1, nil
}
