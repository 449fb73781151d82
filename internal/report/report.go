// Package report formats an engine.Report into the reported outputs
// of spec.md section 6: per direction, elapsed time, frames sent,
// frames received, and (for latency runs) TL/WCL. Plain text is the
// default per original_source/main-tp.c's stdout convention;
// SPEC_FULL.md section 6.A adds an optional YAML format for machine
// consumption.
package report

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lencsegabor-port/siitperfgo/internal/engine"
)

// yamlDirection mirrors engine.DirectionReport with yaml tags; kept
// separate so internal/engine does not need to carry a serialization
// dependency.
type yamlDirection struct {
	ElapsedSeconds float64  `yaml:"elapsed_seconds"`
	Sent           uint64   `yaml:"frames_sent"`
	Received       uint64   `yaml:"frames_received"`
	TL             *float64 `yaml:"tl_ms,omitempty"`
	WCL            *float64 `yaml:"wcl_ms,omitempty"`
}

type yamlReport struct {
	Invalid    bool                     `yaml:"invalid"`
	Warnings   []string                 `yaml:"warnings,omitempty"`
	Directions map[string]yamlDirection `yaml:"directions"`
}

func sortedNames(r engine.Report) []string {
	names := make([]string, 0, len(r.Directions))
	for name := range r.Directions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteText renders r as the plain-text report of spec.md section 6,
// one line of labelled fields per direction, matching
// original_source/main-tp.c's stdout convention.
func WriteText(w io.Writer, r engine.Report) error {
	for _, name := range sortedNames(r) {
		d := r.Directions[name]
		if _, err := fmt.Fprintf(w, "%s: elapsed=%.6fs sent=%d received=%d",
			name, d.ElapsedSeconds, d.Sent, d.Received); err != nil {
			return err
		}
		if d.HasLatency {
			if _, err := fmt.Fprintf(w, " TL=%.3fms WCL=%.3fms", d.TL, d.WCL); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	for _, warn := range r.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warn); err != nil {
			return err
		}
	}
	if r.Invalid {
		if _, err := fmt.Fprintln(w, "run invalid: pacing tolerance exceeded"); err != nil {
			return err
		}
	}
	return nil
}

// WriteYAML renders r as YAML, an ambient addition for CI consumption
// (SPEC_FULL.md section 6.A), not required to satisfy spec.md section
// 6 itself.
func WriteYAML(w io.Writer, r engine.Report) error {
	out := yamlReport{
		Invalid:    r.Invalid,
		Warnings:   r.Warnings,
		Directions: make(map[string]yamlDirection, len(r.Directions)),
	}
	for name, d := range r.Directions {
		yd := yamlDirection{ElapsedSeconds: d.ElapsedSeconds, Sent: d.Sent, Received: d.Received}
		if d.HasLatency {
			tl, wcl := d.TL, d.WCL
			yd.TL, yd.WCL = &tl, &wcl
		}
		out.Directions[name] = yd
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(out)
}
