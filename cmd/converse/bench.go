package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/converse/internal/protocol"
)

type benchOptions struct {
	baseURL     string
	sessions    int
	turns       int
	turnTimeout time.Duration
	texts       []string
	verbose     bool
}

type wsEnvelope struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var defaultUtterances = []string{
	"hello",
	"what's the weather in Paris today?",
	"and the weather in Berlin tomorrow?",
	"can you book a flight?",
}

func newBenchCmd() *cobra.Command {
	var (
		opts     benchOptions
		textsRaw string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Replay conversations over the websocket API and report turn latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.normalize(textsRaw); err != nil {
				return err
			}
			report, err := runBench(cmd.Context(), opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			report.print(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	cmd.Flags().IntVar(&opts.sessions, "sessions", 4, "concurrent sessions")
	cmd.Flags().IntVar(&opts.turns, "turns", 10, "turns per session")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 15*time.Second, "timeout waiting for turn_end")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print every turn")
	return cmd
}

func (o *benchOptions) normalize(textsRaw string) error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	if o.baseURL == "" {
		return fmt.Errorf("base-url is required")
	}
	if o.turns <= 0 {
		return fmt.Errorf("turns must be > 0")
	}
	if o.sessions <= 0 {
		return fmt.Errorf("sessions must be > 0")
	}
	if o.turnTimeout < time.Second {
		o.turnTimeout = time.Second
	}
	if strings.TrimSpace(textsRaw) == "" {
		o.texts = append([]string(nil), defaultUtterances...)
		return nil
	}
	o.texts = nil
	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			o.texts = append(o.texts, t)
		}
	}
	if len(o.texts) == 0 {
		return fmt.Errorf("texts produced no non-empty utterances")
	}
	return nil
}

type benchReport struct {
	Turns     int
	Errors    int
	Inactive  int
	Latencies []time.Duration
	Elapsed   time.Duration
}

func (r benchReport) print(w io.Writer) {
	fmt.Fprintf(w, "bench: turns=%d errors=%d inactive=%d elapsed=%s\n", r.Turns, r.Errors, r.Inactive, r.Elapsed.Round(time.Millisecond))
	if len(r.Latencies) == 0 {
		return
	}
	fmt.Fprintf(w, "bench: p50=%s p95=%s p99=%s max=%s\n",
		percentile(r.Latencies, 0.50), percentile(r.Latencies, 0.95),
		percentile(r.Latencies, 0.99), percentile(r.Latencies, 1))
}

// percentile uses nearest-rank on a sorted copy of samples.
func percentile(samples []time.Duration, q float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func runBench(ctx context.Context, opts benchOptions, logw io.Writer) (benchReport, error) {
	var (
		mu     sync.Mutex
		report benchReport
		wg     sync.WaitGroup
		errs   = make(chan error, opts.sessions)
	)
	start := time.Now()
	for i := 0; i < opts.sessions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("bench-%d-%s", n, uuid.NewString()[:8])
			res, err := replaySession(ctx, opts, sessionID, logw)
			mu.Lock()
			report.Turns += res.Turns
			report.Errors += res.Errors
			report.Inactive += res.Inactive
			report.Latencies = append(report.Latencies, res.Latencies...)
			mu.Unlock()
			if err != nil {
				errs <- fmt.Errorf("session %s: %w", sessionID, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	report.Elapsed = time.Since(start)
	if err, ok := <-errs; ok {
		return report, err
	}
	return report, nil
}

func replaySession(ctx context.Context, opts benchOptions, sessionID string, logw io.Writer) (benchReport, error) {
	var report benchReport
	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return report, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return report, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	turnEndCh := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, turnEndCh, readErrCh)

	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		msg := protocol.UserMessage{
			Type:      protocol.TypeUserMessage,
			SessionID: sessionID,
			MessageID: fmt.Sprintf("%s-%d", sessionID, i+1),
			Text:      text,
		}
		sent := time.Now()
		if err := conn.WriteJSON(msg); err != nil {
			return report, fmt.Errorf("turn %d send: %w", i+1, err)
		}
		end, err := awaitTurnEnd(turnEndCh, readErrCh, opts.turnTimeout)
		if err != nil {
			return report, fmt.Errorf("turn %d await turn_end: %w", i+1, err)
		}
		latency := time.Since(sent)
		report.Turns++
		report.Latencies = append(report.Latencies, latency)
		switch end.Status {
		case "error":
			report.Errors++
		case "inactive":
			report.Inactive++
		}
		if opts.verbose {
			fmt.Fprintf(logw, "bench: %s turn %d/%d status=%s latency=%s text=%q\n", sessionID, i+1, opts.turns, end.Status, latency.Round(time.Microsecond), text)
		}
	}
	return report, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	return u.JoinPath("v1", "sessions", url.PathEscape(sessionID), "ws").String(), nil
}

func readLoop(conn *websocket.Conn, turnEndCh chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == string(protocol.TypeTurnEnd) {
			select {
			case turnEndCh <- env:
			default:
			}
		}
	}
}

func awaitTurnEnd(turnEndCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-turnEndCh:
		return env, nil
	case err := <-readErrCh:
		return wsEnvelope{}, err
	case <-timer.C:
		return wsEnvelope{}, fmt.Errorf("timeout after %s", timeout)
	}
}
