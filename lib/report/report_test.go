package report

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestLogReport(t *testing.T) {
	var buf bytes.Buffer

	prev := log.Writer()

	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	Log{Tag: "scand"}.Report(errors.New("tx failed"), map[string]interface{}{
		"currency": "eth",
		"txid":     "0xabc",
		"block":    uint64(42),
	})

	line := buf.String()
	for _, want := range []string{"[scand]", "tx failed", "block=42", "currency=eth", "txid=0xabc"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}

	// context keys appear sorted so lines are stable
	if strings.Index(line, "block=") > strings.Index(line, "currency=") {
		t.Errorf("context keys not sorted: %s", line)
	}
}
