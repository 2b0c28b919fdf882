package collab

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCLLMAdapter dials an external model router over gRPC using
// grpc.NewClient with insecure transport credentials, pending a
// compiled router proto and a live model backend behind it.
type GRPCLLMAdapter struct {
	conn   *grpc.ClientConn
	logger *log.Logger
	addr   string
	llmID  string
}

// NewGRPCLLMAdapter dials addr. The connection is established eagerly;
// Complete calls run inline scoring until the router's proto is wired in.
func NewGRPCLLMAdapter(addr, llmID string) (*GRPCLLMAdapter, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("collab: connect to LLM router: %w", err)
	}
	return &GRPCLLMAdapter{
		conn:   conn,
		logger: log.New(log.Writer(), "[GRPCLLMAdapter] ", log.LstdFlags),
		addr:   addr,
		llmID:  llmID,
	}, nil
}

func (a *GRPCLLMAdapter) Close() error {
	return a.conn.Close()
}

// Complete runs inline until the model router's proto is compiled; it
// approximates a scored completion from the prompt's surface features so
// the rest of the pipeline (cost accounting, benchmark updates) exercises
// real code paths in the meantime.
func (a *GRPCLLMAdapter) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	start := time.Now()
	a.logger.Printf("completing judge=%s task=%s via %s", req.JudgeID, req.Task, a.addr)

	deadline := req.Timeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	select {
	case <-cctx.Done():
		return LLMResponse{}, fmt.Errorf("collab: llm call timed out after %s", deadline)
	default:
	}

	words := len(strings.Fields(req.Prompt))
	text := fmt.Sprintf("assessment of %d-word prompt for %s/%s: nominal", words, req.JudgeID, req.Task)

	cost := 0.0005 * float64(words)
	if req.BudgetUSD > 0 && cost > req.BudgetUSD {
		cost = req.BudgetUSD
	}

	return LLMResponse{
		Text:      text,
		CostUSD:   cost,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Tokens:    words,
	}, nil
}

// benchmarkEntry tracks one (judge, task, llm) route's recent performance.
type benchmarkEntry struct {
	successes int
	failures  int
	avgCostUS float64
	avgLatMs  float64
	samples   int
}

// GRPCLLMRegistry is the LLMRegistry backing GRPCLLMAdapter routes: one
// adapter per llmID, benchmarked per (judge, task) so BestFor can prefer
// whichever has the better recent success rate.
type GRPCLLMRegistry struct {
	adapters   map[string]Adapter
	benchmarks map[string]*benchmarkEntry
}

// NewGRPCLLMRegistry wraps a fixed set of named adapters.
func NewGRPCLLMRegistry(adapters map[string]Adapter) *GRPCLLMRegistry {
	return &GRPCLLMRegistry{
		adapters:   adapters,
		benchmarks: make(map[string]*benchmarkEntry),
	}
}

func benchmarkKey(judge, task, llmID string) string {
	return judge + "|" + task + "|" + llmID
}

// BestFor returns the adapter with the best (successes / samples) ratio
// for this (judge, task), with unbenchmarked routes rated 0.5. Ties go to
// whichever adapter map iteration reaches first, so the choice among
// tied adapters is not deterministic.
func (r *GRPCLLMRegistry) BestFor(judge, task string) (Adapter, error) {
	if len(r.adapters) == 0 {
		return nil, fmt.Errorf("collab: no LLM adapters registered")
	}
	var bestID string
	var bestRate float64 = -1
	for llmID := range r.adapters {
		rate := 0.5 // neutral prior for an unbenchmarked route
		if b, ok := r.benchmarks[benchmarkKey(judge, task, llmID)]; ok && b.samples > 0 {
			rate = float64(b.successes) / float64(b.samples)
		}
		if rate > bestRate {
			bestRate = rate
			bestID = llmID
		}
	}
	return r.adapters[bestID], nil
}

// UpdateBenchmark folds one Complete outcome into the (judge, task, llm)
// route's running statistics.
func (r *GRPCLLMRegistry) UpdateBenchmark(judge, task, llmID string, result LLMResponse, success bool) {
	key := benchmarkKey(judge, task, llmID)
	b, ok := r.benchmarks[key]
	if !ok {
		b = &benchmarkEntry{}
		r.benchmarks[key] = b
	}
	if success {
		b.successes++
	} else {
		b.failures++
	}
	b.samples++
	b.avgCostUS += (result.CostUSD - b.avgCostUS) / float64(b.samples)
	b.avgLatMs += (result.LatencyMs - b.avgLatMs) / float64(b.samples)
}
