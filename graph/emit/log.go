package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing structured event output to a
// writer.
//
// Two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	[node_started] workflow=task-001 seq=1 node=intent_analysis
//
// Example JSON output:
//
//	{"type":"node_started","workflow_id":"task-001","seq":1,"node_id":"intent_analysis","at":"..."}
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to the given writer. A nil
// writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes the event in the configured format.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		data, err := json.Marshal(event)
		if err != nil {
			fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
			return
		}
		fmt.Fprintf(l.writer, "%s\n", data)
		return
	}

	fmt.Fprintf(l.writer, "[%s] workflow=%s seq=%d node=%s",
		event.Type, event.WorkflowID, event.Seq, event.NodeID)
	if event.Msg != "" {
		fmt.Fprintf(l.writer, " msg=%q", event.Msg)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
