// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing group chat conversations.
//
// This package includes:
//   - Scenario definitions for declarative conversation tests
//   - A scripted provider that answers speaker selection and agent prompts
//   - Event collectors for verifying emitted run events
//
// Example usage:
//
//	scenario := testing.NewScenario("review stops").
//	    WithInitiator("dev_executor").
//	    WithMessage("Review the repo").
//	    ExpectTermination(groupchat.TerminationKeyword).
//	    ExpectSpeakers("dev_executor", "code_reviewer")
//
//	result := scenario.Run(t, manager)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/groupchat"
)

// ConversationRunner starts a conversation. *groupchat.Manager implements it.
type ConversationRunner interface {
	Run(ctx context.Context, initiator, message string) (*groupchat.Result, error)
}

// Scenario defines a conversation and what must hold after it.
type Scenario struct {
	name          string
	initiator     string
	message       string
	context       context.Context
	timeout       time.Duration
	expectations  []Expectation
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Result   *groupchat.Result
	Error    error
	Events   []core.Event
	Duration time.Duration
}

// NewScenario creates a new test scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithInitiator sets the agent that sends the opening message.
func (s *Scenario) WithInitiator(name string) *Scenario {
	s.initiator = name
	return s
}

// WithMessage sets the opening message.
func (s *Scenario) WithMessage(msg string) *Scenario {
	s.message = msg
	return s
}

// WithContext sets the context for the scenario.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout sets the timeout for the scenario.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a setup function to run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function to run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectNoError expects the conversation to finish without error.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects an error matching the given pattern.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectTermination expects the given termination reason.
func (s *Scenario) ExpectTermination(reason string) *Scenario {
	return s.Expect(&terminationExpectation{reason: reason})
}

// ExpectSpeakers expects exactly this sequence of message authors.
func (s *Scenario) ExpectSpeakers(names ...string) *Scenario {
	return s.Expect(&speakersExpectation{names: names})
}

// ExpectMessage expects the message at round (1-based) to come from agent
// and match matcher.
func (s *Scenario) ExpectMessage(round int, agent string, matcher StringMatcher) *Scenario {
	return s.Expect(&messageExpectation{round: round, agent: agent, matcher: matcher})
}

// ExpectSummary expects the run summary to match.
func (s *Scenario) ExpectSummary(matcher StringMatcher) *Scenario {
	return s.Expect(&summaryExpectation{matcher: matcher})
}

// ExpectEvent expects an event of the given type.
func (s *Scenario) ExpectEvent(eventType core.EventType) *Scenario {
	return s.Expect(&eventExpectation{eventType: eventType})
}

// ExpectMaxDuration expects the scenario to complete within the given duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run executes the scenario. Events are read from collector when it is not
// nil; wire the same collector into the manager's emitter.
func (s *Scenario) Run(t *testing.T, runner ConversationRunner, collector ...*EventCollector) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := runner.Run(ctx, s.initiator, s.message)
	out := &ScenarioResult{Result: res, Error: err, Duration: time.Since(start)}
	for _, c := range collector {
		if c != nil {
			out.Events = append(out.Events, c.Events()...)
		}
	}
	return out
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// Speakers returns the authors of the conversation messages in order.
func (r *ScenarioResult) Speakers() []string {
	if r.Result == nil {
		return nil
	}
	out := make([]string, len(r.Result.Messages))
	for i, m := range r.Result.Messages {
		out[i] = m.Name
	}
	return out
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{re: regexp.MustCompile(pattern)}
}

// HasPrefix returns a matcher that checks if the string has the given prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

type containsMatcher struct{ substr string }

func (m *containsMatcher) Match(s string) bool { return strings.Contains(s, m.substr) }
func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct{ expected string }

func (m *equalsMatcher) Match(s string) bool { return s == m.expected }
func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct{ re *regexp.Regexp }

func (m *regexMatcher) Match(s string) bool { return m.re.MatchString(s) }
func (m *regexMatcher) Description() string { return fmt.Sprintf("matches regex %q", m.re.String()) }

type prefixMatcher struct{ prefix string }

func (m *prefixMatcher) Match(s string) bool { return strings.HasPrefix(s, m.prefix) }
func (m *prefixMatcher) Description() string { return fmt.Sprintf("has prefix %q", m.prefix) }

// Expectation implementations

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string { return "no error" }

type errorExpectation struct{ matcher StringMatcher }

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected error matching %s, got nil", e.matcher.Description())
	}
	if !e.matcher.Match(r.Error.Error()) {
		return fmt.Errorf("error %q does not match: %s", r.Error.Error(), e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return fmt.Sprintf("error %s", e.matcher.Description())
}

type terminationExpectation struct{ reason string }

func (e *terminationExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil {
		return fmt.Errorf("no result")
	}
	if r.Result.Termination != e.reason {
		return fmt.Errorf("termination is %q", r.Result.Termination)
	}
	return nil
}

func (e *terminationExpectation) Description() string {
	return fmt.Sprintf("terminates with %q", e.reason)
}

type speakersExpectation struct{ names []string }

func (e *speakersExpectation) Check(r *ScenarioResult) error {
	if got := r.Speakers(); !slices.Equal(got, e.names) {
		return fmt.Errorf("speakers were %v", got)
	}
	return nil
}

func (e *speakersExpectation) Description() string {
	return fmt.Sprintf("speakers %v", e.names)
}

type messageExpectation struct {
	round   int
	agent   string
	matcher StringMatcher
}

func (e *messageExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil || e.round < 1 || e.round > len(r.Result.Messages) {
		return fmt.Errorf("no message at round %d", e.round)
	}
	msg := r.Result.Messages[e.round-1]
	if msg.Name != e.agent {
		return fmt.Errorf("round %d was spoken by %s", e.round, msg.Name)
	}
	if !e.matcher.Match(msg.Content) {
		return fmt.Errorf("content %q does not match: %s", msg.Content, e.matcher.Description())
	}
	return nil
}

func (e *messageExpectation) Description() string {
	return fmt.Sprintf("round %d by %s %s", e.round, e.agent, e.matcher.Description())
}

type summaryExpectation struct{ matcher StringMatcher }

func (e *summaryExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil {
		return fmt.Errorf("no result")
	}
	if !e.matcher.Match(r.Result.Summary) {
		return fmt.Errorf("summary %q does not match: %s", r.Result.Summary, e.matcher.Description())
	}
	return nil
}

func (e *summaryExpectation) Description() string {
	return fmt.Sprintf("summary %s", e.matcher.Description())
}

type eventExpectation struct{ eventType core.EventType }

func (e *eventExpectation) Check(r *ScenarioResult) error {
	for _, ev := range r.Events {
		if ev.Type == e.eventType {
			return nil
		}
	}
	return fmt.Errorf("event type %q was not emitted", e.eventType)
}

func (e *eventExpectation) Description() string {
	return fmt.Sprintf("event %q emitted", e.eventType)
}

type maxDurationExpectation struct{ max time.Duration }

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("duration %v exceeds maximum %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("duration <= %v", e.max)
}

// EventCollector records events; it implements core.EventEmitter.
type EventCollector struct {
	mu     sync.RWMutex
	events []core.Event
}

// NewEventCollector creates a new event collector.
func NewEventCollector() *EventCollector {
	return &EventCollector{}
}

// Emit implements core.EventEmitter.
func (c *EventCollector) Emit(_ context.Context, event core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns all collected events.
func (c *EventCollector) Events() []core.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Event(nil), c.events...)
}

// EventTypes returns the types of all collected events.
func (c *EventCollector) EventTypes() []core.EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]core.EventType, len(c.events))
	for i, ev := range c.events {
		types[i] = ev.Type
	}
	return types
}

// HasEvent checks if an event of the given type was collected.
func (c *EventCollector) HasEvent(eventType core.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ev := range c.events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

// Reset clears all collected events.
func (c *EventCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
