package report

import (
	"fmt"

	"github.com/rudransh-shrivastava/netspeed/internal/session"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// JSON encodes one run: the server tested, every result and the summary.
func JSON(server string, results []session.Result) ([]byte, error) {
	sessions := make([]any, 0, len(results))
	runID := ""
	for _, r := range results {
		runID = r.RunID
		sessions = append(sessions, resultFields(r))
	}

	sum := Summarize(results)
	doc, err := structpb.NewStruct(map[string]any{
		"run_id":   runID,
		"server":   server,
		"sessions": sessions,
		"summary": map[string]any{
			"sessions":             sum.Sessions,
			"succeeded":            sum.Succeeded,
			"failed":               sum.Failed(),
			"bytes":                sum.Bytes,
			"aggregate_throughput": sum.AggregateThroughput,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("building report: %w", err)
	}

	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(doc)
}

func resultFields(r session.Result) map[string]any {
	m := map[string]any{
		"id":              r.ID,
		"kind":            r.Kind.String(),
		"transport":       r.Kind.Transport(),
		"ok":              r.OK(),
		"requested_bytes": r.Requested,
		"elapsed_seconds": r.Elapsed.Seconds(),
		"bytes":           r.Bytes,
		"throughput_bps":  r.Throughput,
		"segments":        r.Segments,
		"total_segments":  r.TotalSegments,
	}
	if r.Kind == session.KindUnreliable {
		m["loss_percent"] = r.LossPercent
		m["missing"] = r.Missing
		m["received"] = r.Received
		m["duplicates"] = r.Duplicates
		m["reordered"] = r.Reordered
		m["unexpected"] = r.Unexpected
	}
	if r.Err != nil {
		m["error"] = r.Err.Error()
	}
	return m
}
