package suite

import (
	"fmt"
	"io"
	"time"
)

// RenderSummary writes a plain-text verdict per conversation followed by the
// totals of the run.
func RenderSummary(w io.Writer, report Report) error {
	p := &printer{w: w}
	p.printf("run %s\n", report.RunID)
	for _, s := range report.Suites {
		verdict := "PASS"
		if !s.Passed() {
			verdict = "FAIL"
		}
		p.printf("%s %s (%s)\n", verdict, s.Name, s.Target)
		if s.Err != nil {
			p.printf("    error: %v\n", s.Err)
			continue
		}
		for _, c := range s.Conversations {
			mark := "ok"
			if !c.Passed {
				mark = "FAILED"
			}
			p.printf("  %-6s %s [%s, %d turns, %s]\n", mark, c.Name, c.Style, c.Turns, c.Duration.Round(time.Millisecond))
			if c.Err != nil {
				p.printf("         %v\n", c.Err)
			}
		}
	}
	passed, failed := report.Counts()
	p.printf("\n%d passed, %d failed in %s\n", passed, failed, report.Duration.Round(time.Millisecond))
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
