// Command replay feeds captured action segments through a fresh hub and
// prints the reports they produce, one JSON envelope per line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"voxelwatch.ai/internal/ingest"
	persistlog "voxelwatch.ai/internal/persistence/log"
	"voxelwatch.ai/internal/track/hub"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/tuning"
)

func main() {
	var (
		captureDir = flag.String("capture", "./data/capture", "capture dir containing actions-*.jsonl.zst")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: built-in defaults)")
		actorID    = flag.String("actor", "", "replay only this actor (optional)")
		fromMs     = flag.Int64("from_ms", 0, "skip records stamped before this server time (optional)")
		toMs       = flag.Int64("to_ms", 0, "stop after this server time (optional)")
		outPath    = flag.String("out", "", "write envelopes here instead of stdout")
		summary    = flag.Bool("summary", false, "print report counts by type instead of envelopes")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}

	files, err := persistlog.ListSegments(*captureDir, "actions")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list capture:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no capture files found in", *captureDir)
		os.Exit(1)
	}

	res, err := replay(context.Background(), files, options{
		Tuning:  tune,
		ActorID: strings.TrimSpace(*actorID),
		FromMs:  *fromMs,
		ToMs:    *toMs,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "create out:", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if *summary {
		counts := map[report.Type]int{}
		for _, e := range res.Reports {
			counts[e.Type]++
		}
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(out, "%-13s %d\n", t, counts[report.Type(t)])
		}
	} else {
		enc := json.NewEncoder(out)
		for _, e := range res.Reports {
			if err := enc.Encode(e); err != nil {
				fmt.Fprintln(os.Stderr, "write:", err)
				os.Exit(1)
			}
		}
	}
	fmt.Fprintf(os.Stderr, "replay ok: records=%d skipped=%d reports=%d actors=%d\n", res.Records, res.Skipped, len(res.Reports), res.Actors)
}

type options struct {
	Tuning  tuning.Tuning
	ActorID string
	FromMs  int64
	ToMs    int64
}

type result struct {
	Records int
	Skipped int
	Actors  int
	// Reports are grouped by actor in capture order; each actor's reports
	// keep their emission order.
	Reports []report.Envelope
}

// recorder collects envelopes from every actor worker.
type recorder struct {
	mu sync.Mutex
	by map[string][]report.Envelope
}

func (r *recorder) Emit(e report.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.by[e.ActorID] = append(r.by[e.ActorID], e)
}

// replay applies every record in file order. Between records the hub is
// ticked on the tuning cadence up to the next record's stamp, the same
// schedule a live worker would have followed.
func replay(ctx context.Context, files []string, opts options) (result, error) {
	var res result
	sink := &recorder{by: map[string][]report.Envelope{}}

	var now int64
	h := hub.New(hub.Config{
		Tuning: opts.Tuning,
		Sink:   sink,
		Clock:  func() int64 { return now },
	})

	step := opts.Tuning.Hub.TickIntervalMs
	if step <= 0 {
		step = tuning.Defaults().Hub.TickIntervalMs
	}
	var nextTick int64
	started := false
	seen := map[string]struct{}{}
	var order []string

	errStop := errors.New("stop")
	for _, path := range files {
		err := persistlog.ReadSegment(path, func(line []byte) error {
			var rec ingest.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			if opts.ActorID != "" && rec.ActorID != opts.ActorID {
				return nil
			}
			if rec.At < opts.FromMs {
				res.Skipped++
				return nil
			}
			if opts.ToMs != 0 && rec.At > opts.ToMs {
				return errStop
			}

			if !started {
				started = true
				nextTick = rec.At + int64(step)
			}
			for nextTick <= rec.At {
				now = nextTick
				if err := h.Tick(ctx, nextTick); err != nil {
					return err
				}
				nextTick += int64(step)
			}
			if rec.At > now {
				now = rec.At
			}

			if err := ingest.Apply(ctx, h, rec); err != nil {
				if errors.Is(err, ingest.ErrBadAction) {
					res.Skipped++
					return nil
				}
				return err
			}
			if _, ok := seen[rec.ActorID]; !ok {
				seen[rec.ActorID] = struct{}{}
				order = append(order, rec.ActorID)
			}
			res.Records++
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			_ = h.Close(ctx)
			return res, err
		}
	}

	// Actors still connected at the end of the capture are finalized as if
	// they disconnected at the last stamp.
	if err := h.Close(ctx); err != nil {
		return res, err
	}

	res.Actors = len(order)
	for _, id := range order {
		res.Reports = append(res.Reports, sink.by[id]...)
	}
	return res, nil
}
