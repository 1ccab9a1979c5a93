package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// scenario is a YAML file of scripts, run in order on one context. Each
// step's script runs as a task, after which the thread is drained.
type scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Realm       string         `yaml:"realm,omitempty"`
	Steps       []scenarioStep `yaml:"steps"`
}

type scenarioStep struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`

	// Expect, if set, must equal the step's output lines.
	Expect []string `yaml:"expect,omitempty"`
}

type transcript struct {
	Name     string
	Steps    []stepTranscript
	Failures int
}

type stepTranscript struct {
	Name     string
	Lines    []string
	Expected []string
	Failed   bool
}

func loadScenario(path string) (*scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := parseScenario(b)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

func parseScenario(b []byte) (*scenario, error) {
	var sc scenario
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, errors.New("missing name")
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("no steps")
	}
	for i := range sc.Steps {
		step := &sc.Steps[i]
		if strings.TrimSpace(step.Script) == "" {
			return nil, fmt.Errorf("step %d: missing script", i+1)
		}
		if step.Name == "" {
			step.Name = fmt.Sprintf("step %d", i+1)
		}
	}
	return &sc, nil
}

// runScenario runs sc on a new session, on the calling goroutine.
func runScenario(sc *scenario, cfg *config, logger *logiface.Logger[logiface.Event]) (*transcript, error) {
	s, err := newSession(cfg, sc.Realm, logger, nil)
	if err != nil {
		return nil, err
	}

	t := &transcript{Name: sc.Name}
	for i, step := range sc.Steps {
		if err := s.evaluate(fmt.Sprintf("%s#%d", sc.Name, i+1), step.Script); err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}
		st := stepTranscript{Name: step.Name, Lines: s.takeLines()}
		if step.Expect != nil && !slices.Equal(st.Lines, step.Expect) {
			st.Expected = step.Expect
			st.Failed = true
			t.Failures++
		}
		t.Steps = append(t.Steps, st)
	}

	if err := s.close(); err != nil {
		return nil, err
	}
	// anything reported during teardown belongs to the last step
	if lines := s.takeLines(); len(lines) != 0 {
		last := &t.Steps[len(t.Steps)-1]
		last.Lines = append(last.Lines, lines...)
	}
	return t, nil
}

func (t *transcript) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", t.Name)
	for _, st := range t.Steps {
		fmt.Fprintf(&b, "step: %s\n", st.Name)
		if len(st.Lines) == 0 {
			b.WriteString("  (no output)\n")
		}
		for _, line := range st.Lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		if st.Failed {
			b.WriteString("  FAILED, expected:\n")
			for _, line := range st.Expected {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	if t.Failures == 0 {
		b.WriteString("result: ok\n")
	} else {
		fmt.Fprintf(&b, "result: %d failed step(s)\n", t.Failures)
	}
	return b.String()
}
