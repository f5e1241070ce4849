package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/eventpoll/internal/client"
	"github.com/alfredjeanlab/eventpoll/internal/model"
	"github.com/alfredjeanlab/eventpoll/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printStatus(w io.Writer, st *client.StatusResponse, s ui.Styles, now time.Time) {
	p := st.Poller
	cursor := "(none)"
	if !p.Cursor.IsZero() {
		cursor = s.Accent(p.Cursor.String())
	}
	state := "idle"
	if p.Running {
		state = "running"
	}

	fmt.Fprintf(w, "Cursor:      %s\n", cursor)
	fmt.Fprintf(w, "State:       %s\n", state)
	if p.NextWake != nil {
		fmt.Fprintf(w, "Next wake:   %s %s\n", p.NextWake.Local().Format("15:04:05"), s.Muted("(in "+p.NextWake.Sub(now).Round(time.Second).String()+")"))
	} else {
		fmt.Fprintf(w, "Next wake:   %s\n", s.Muted("none"))
	}
	if p.LastCycleAt != nil {
		fmt.Fprintf(w, "Last cycle:  %s\n", p.LastCycleAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Cycles:      %d (%d failed)\n", p.Cycles, p.Failures)
	fmt.Fprintf(w, "Delivered:   %d events\n", p.EventsDelivered)
	fmt.Fprintf(w, "Subscribers: %d\n", st.Subscribers)
	fmt.Fprintf(w, "Generation:  %d\n", p.Generation)
	if p.LastError != "" {
		fmt.Fprintf(w, "Last error:  %s\n", s.Error(p.LastError))
	}
}

func printSubscribers(w io.Writer, resp *client.SubscribersResponse, s ui.Styles) {
	if len(resp.Subscribers) == 0 {
		fmt.Fprintln(w, "No subscribers")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTRANSPORT\tREMOTE\tCONNECTED\tIDLE\tPROBES")
	for _, e := range resp.Subscribers {
		id := e.ID
		if e.Reaped {
			id += " " + s.Warn("(reaped)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			id,
			e.Transport,
			e.Remote,
			(time.Duration(e.ConnectedSecs) * time.Second).String(),
			(time.Duration(e.IdleSecs) * time.Second).String(),
			e.Probes,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d subscribers\n", resp.Count)
}

// formatBatch renders one broadcast. pretty prints a line per event; otherwise
// the batch is compacted onto a single line for piping.
func formatBatch(msg []byte, pretty bool, s ui.Styles) (string, error) {
	if !pretty {
		var buf bytes.Buffer
		if err := json.Compact(&buf, msg); err != nil {
			return "", fmt.Errorf("decoding broadcast: %w", err)
		}
		return buf.String() + "\n", nil
	}

	var batch []model.Event
	if err := json.Unmarshal(msg, &batch); err != nil {
		return "", fmt.Errorf("decoding broadcast: %w", err)
	}
	var out bytes.Buffer
	for i := range batch {
		ev := &batch[i]
		fmt.Fprintf(&out, "%s %s %s %s",
			s.Muted(fmt.Sprintf("#%d", ev.Ledger.Int64())),
			s.Accent(ev.ContractID),
			ev.Type,
			ev.ID,
		)
		if topic := ev.TopicAt(0); topic != "" {
			fmt.Fprintf(&out, " %s", s.Muted(topic))
		}
		out.WriteByte('\n')
	}
	return out.String(), nil
}
