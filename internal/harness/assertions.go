package harness

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// AssertionError is returned when an assertion fails. It carries the
// message trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Messages []MessageEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Messages) > 0 {
		fmt.Fprintf(&buf, "\nMessages:\n")
		for _, m := range e.Messages {
			status := "delivered"
			if !m.Delivered {
				status = "dropped"
			}
			fmt.Fprintf(&buf, "  [%d] +%s %s %s\n", m.Seq, time.Duration(m.AtMS)*time.Millisecond, m.Message.Type, status)
		}
	}
	return buf.String()
}

// assertMessageCount checks how many messages of one type were sent,
// optionally only the delivered or the dropped ones.
func assertMessageCount(result *Result, a Assertion) error {
	count := 0
	for _, m := range result.Messages {
		if m.Message.Type != a.Message {
			continue
		}
		if a.Delivered != nil && m.Delivered != *a.Delivered {
			continue
		}
		count++
	}
	if count == a.Count {
		return nil
	}

	what := string(a.Message)
	if a.Delivered != nil {
		if *a.Delivered {
			what = "delivered " + what
		} else {
			what = "dropped " + what
		}
	}
	return &AssertionError{
		Type:     AssertMessageCount,
		Expected: fmt.Sprintf("%d %s messages", a.Count, what),
		Actual:   fmt.Sprintf("%d", count),
		Messages: result.Messages,
	}
}

// assertMessageOrder checks that the listed message types appear in this
// relative order. Other messages may come in between.
func assertMessageOrder(result *Result, a Assertion) error {
	next := 0
	for _, m := range result.Messages {
		if next < len(a.Messages) && m.Message.Type == a.Messages[next] {
			next++
		}
	}
	if next == len(a.Messages) {
		return nil
	}
	return &AssertionError{
		Type:     AssertMessageOrder,
		Expected: fmt.Sprintf("messages in order: %v", a.Messages),
		Actual:   fmt.Sprintf("matched only %v", a.Messages[:next]),
		Messages: result.Messages,
	}
}

// assertActiveSeconds checks the active time flushed for a resource, in
// one interval or summed over all of them. Millisecond precision.
func assertActiveSeconds(result *Result, a Assertion) error {
	var total int64
	found := a.Flush == 0
	for _, f := range result.Flushes {
		if a.Flush != 0 && f.Flush != int64(a.Flush) {
			continue
		}
		found = true
		total += f.Active[a.Resource]
	}
	if !found {
		return &AssertionError{
			Type:     AssertActiveSeconds,
			Expected: fmt.Sprintf("flush %d", a.Flush),
			Actual:   fmt.Sprintf("%d flushes", len(result.Flushes)),
			Messages: result.Messages,
		}
	}

	want := int64(math.Round(a.Seconds * 1000))
	if total == want {
		return nil
	}
	scope := "all flushes"
	if a.Flush != 0 {
		scope = fmt.Sprintf("flush %d", a.Flush)
	}
	return &AssertionError{
		Type:     AssertActiveSeconds,
		Expected: fmt.Sprintf("%s active for %gs in %s", a.Resource, a.Seconds, scope),
		Actual:   fmt.Sprintf("%gs", float64(total)/1000),
		Messages: result.Messages,
	}
}

// assertInjections checks how many injections happened, into one tab or
// overall.
func assertInjections(result *Result, a Assertion) error {
	count := 0
	for _, inj := range result.Injections {
		if a.TabID == nil || inj.TabID == *a.TabID {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	target := "all tabs"
	if a.TabID != nil {
		target = fmt.Sprintf("tab %d", *a.TabID)
	}
	return &AssertionError{
		Type:     AssertInjections,
		Expected: fmt.Sprintf("%d injections into %s", a.Count, target),
		Actual:   fmt.Sprintf("%d", count),
	}
}

// assertAttention checks which tab holds attention after the last step.
func assertAttention(result *Result, a Assertion) error {
	if result.Attention == *a.TabID {
		return nil
	}
	return &AssertionError{
		Type:     AssertAttention,
		Expected: describeAttention(*a.TabID),
		Actual:   describeAttention(result.Attention),
	}
}

func describeAttention(tabID int) string {
	if tabID == 0 {
		return "no tab"
	}
	return fmt.Sprintf("tab %d", tabID)
}

// EvaluateAssertions evaluates all assertions against the result and
// returns the messages of the failed ones.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertMessageCount:
			err = assertMessageCount(result, a)
		case AssertMessageOrder:
			err = assertMessageOrder(result, a)
		case AssertActiveSeconds:
			err = assertActiveSeconds(result, a)
		case AssertInjections:
			err = assertInjections(result, a)
		case AssertAttention:
			if a.TabID == nil {
				err = fmt.Errorf("assertion[%d]: attention requires tab_id", i)
			} else {
				err = assertAttention(result, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

