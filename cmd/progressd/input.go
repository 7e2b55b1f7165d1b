package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/effectus/progressive-go/notify"
	"github.com/effectus/progressive-go/progression"
	"github.com/effectus/progressive-go/rules"
)

// command is one stdin line of `progressd run`. Exactly one of the fields is expected.
type command struct {
	Interaction string          `json:"interaction,omitempty"`
	At          time.Time       `json:"at,omitempty"`
	Event       string          `json:"event,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Reset       *string         `json:"reset,omitempty"`
	Metric      string          `json:"metric,omitempty"`
	Value       *float64        `json:"value,omitempty"`
	Tick        bool            `json:"tick,omitempty"`
}

// step is one line of a simulation file.
type step struct {
	Element string `json:"element"`
	Count   int    `json:"count"`
}

type engine interface {
	OnInteraction(elementID string, at time.Time) error
	InjectEvent(name string, payload []byte)
	Reset(area string)
	TrackMetricValue(name string, value float64)
	Tick() rules.TickReport
}

func apply(e engine, cmd command) error {
	switch {
	case cmd.Interaction != "":
		return e.OnInteraction(cmd.Interaction, cmd.At)
	case cmd.Event != "":
		e.InjectEvent(cmd.Event, cmd.Payload)
	case cmd.Reset != nil:
		e.Reset(*cmd.Reset)
	case cmd.Metric != "":
		value := 1.0
		if cmd.Value != nil {
			value = *cmd.Value
		}
		e.TrackMetricValue(cmd.Metric, value)
	case cmd.Tick:
		report := e.Tick()
		names := make([]string, 0, len(report.Errors))
		for name := range report.Errors {
			names = append(names, name)
		}
		sort.Strings(names)
		errs := make([]error, 0, len(names))
		for _, name := range names {
			errs = append(errs, fmt.Errorf("rule %s: %w", name, report.Errors[name]))
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("empty command")
	}
	return nil
}

// readLines calls fn for every non-blank line that does not start with '#'. It returns when
// r is exhausted or ctx is cancelled.
func readLines(ctx context.Context, r io.Reader, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func readSteps(r io.Reader) ([]progression.Step, error) {
	var steps []progression.Step
	lineNo := 0
	err := readLines(context.Background(), r, func(line []byte) error {
		lineNo++
		var s step
		if err := json.Unmarshal(line, &s); err != nil {
			return fmt.Errorf("step %d: %w", lineNo, err)
		}
		if s.Element == "" {
			return fmt.Errorf("step %d: element is required", lineNo)
		}
		if s.Count <= 0 {
			s.Count = 1
		}
		steps = append(steps, progression.Step{ElementID: s.Element, Count: s.Count})
		return nil
	})
	return steps, err
}

// eventWriter prints notifications as JSON lines. Scheduler ticks and stdin commands publish
// from different goroutines, so writes are serialized.
type eventWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newEventWriter(out io.Writer) *eventWriter {
	return &eventWriter{encoder: json.NewEncoder(out)}
}

func (w *eventWriter) Handle(event notify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(event); err != nil && logger != nil {
		logger.Warn("failed to write event", zap.String("kind", string(event.Kind)), zap.Error(err))
	}
}

func jsonUnmarshalStrict(data []byte, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
