// Package harness runs scripted browsing sessions against the real engine
// with a virtual clock.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: focus_and_flush
//	description: "Attention follows focus and is flushed per resource"
//	interval_seconds: 120
//	windows:
//	  - id: 1
//	    focused: true
//	    tabs:
//	      - { id: 10, url: "https://a.example/", active: true }
//	steps:
//	  - advance: 30s
//	  - signal: { type: tabActivated, tab_id: 11 }
//	  - flush: true
//	assertions:
//	  - { type: active_seconds, flush: 1, resource: "https://a.example/", seconds: 30 }
//
// Steps are advance, signal, flush, poll, disconnect and fire_injections.
// Exactly one is set per step.
//
// # Assertion Types
//
//   - message_count: number of messages of a type, optionally only the
//     delivered (or dropped) ones
//   - message_order: message types appear in the given relative order
//   - active_seconds: active time of a resource in one flush or overall
//   - injections: number of injections, overall or into one tab
//   - attention: the tab holding attention after the last step
//
// # Deterministic Testing
//
// Every run starts the fake clock at testutil.Epoch, uses a fixed session
// id and a fresh in-memory journal. Timer callbacks fire on their own
// goroutines, so after every step the harness waits until each due
// injection has reached the engine queue, then drains the queue. Injections
// of one step are reported in tab order.
//
// The trace is read back from the journal, so a golden file also pins
// what attend would have recorded.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/navigation.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
