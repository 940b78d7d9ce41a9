// Package match selects registry records for listing.
package match

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/expinfo/pkg/jobregistry"
)

// Errors returned by New.
var (
	// ErrInvalidPattern is returned when a user pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrInvalidRegex is returned when the grep expression cannot be compiled.
	ErrInvalidRegex = errors.New("invalid regex")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Config configures a Selector. Zero values select everything.
type Config struct {
	// Users are glob patterns on the owning user; a record must match at
	// least one. Brace alternation works: "{alice,bob}".
	Users []string

	// Grep is a regular expression matched against message and command.
	Grep string

	// ExclusiveOnly selects only the exclusive holder.
	ExclusiveOnly bool
}

// Selector filters jobs. A nil Selector matches every job.
//
// The Selector is safe for concurrent use after creation.
type Selector struct {
	users         []string
	grep          *regexp.Regexp
	exclusiveOnly bool
}

// New compiles cfg. Blank patterns are ignored.
func New(cfg Config) (*Selector, error) {
	s := &Selector{exclusiveOnly: cfg.ExclusiveOnly}
	for _, p := range cfg.Users {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		s.users = append(s.users, p)
	}
	if g := strings.TrimSpace(cfg.Grep); g != "" {
		re, err := regexp.Compile(g)
		if err != nil {
			return nil, &PatternError{Pattern: g, Err: fmt.Errorf("%w: %v", ErrInvalidRegex, err)}
		}
		s.grep = re
	}
	return s, nil
}

// Empty reports whether the selector accepts every job.
func (s *Selector) Empty() bool {
	return s == nil || (len(s.users) == 0 && s.grep == nil && !s.exclusiveOnly)
}

// Match reports whether j is selected.
func (s *Selector) Match(j jobregistry.Job) bool {
	if s.Empty() {
		return true
	}
	if s.exclusiveOnly && !j.Exclusive {
		return false
	}
	if len(s.users) > 0 && !s.matchUser(j.User) {
		return false
	}
	if s.grep != nil && !s.grep.MatchString(j.Msg) && !s.grep.MatchString(j.Cmd) {
		return false
	}
	return true
}

// Filter returns the selected subset of jobs. The input is not modified.
func (s *Selector) Filter(jobs jobregistry.Jobs) jobregistry.Jobs {
	if s.Empty() {
		return jobs
	}
	out := make(jobregistry.Jobs, len(jobs))
	for id, j := range jobs {
		if s.Match(j) {
			out[id] = j
		}
	}
	return out
}

// String describes the selector for logs.
func (s *Selector) String() string {
	if s.Empty() {
		return "all"
	}
	var parts []string
	if len(s.users) > 0 {
		parts = append(parts, "user: "+strings.Join(s.users, "|"))
	}
	if s.grep != nil {
		parts = append(parts, "grep: "+s.grep.String())
	}
	if s.exclusiveOnly {
		parts = append(parts, "exclusive")
	}
	return strings.Join(parts, ", ")
}

func (s *Selector) matchUser(user string) bool {
	for _, p := range s.users {
		// Patterns were validated in New.
		if ok, err := doublestar.Match(p, user); err == nil && ok {
			return true
		}
	}
	return false
}
