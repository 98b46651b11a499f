// Package report collects operational faults that must not abort processing, such as a single
// deposit failing to persist in the middle of a scan.
package report

import (
	"fmt"
	"log"
	"sort"
)

// Reporter receives faults together with identifying context.
type Reporter interface {
	Report(err error, context map[string]interface{})
}

// Log is a Reporter writing faults to the standard logger.
type Log struct {
	// Tag prefixes every line, usually the service name.
	Tag string
}

// Report writes the fault and its context, keys in stable order.
func (l Log) Report(err error, context map[string]interface{}) {
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	line := ""
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, context[k])
	}

	log.Printf("[%s] fault: %v%s", l.Tag, err, line)
}
