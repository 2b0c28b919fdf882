package perception

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

func fib(n int) time.Duration {
	return time.Duration(kernel.Fibonacci(n)) * time.Second
}

// GitWatcher observes the working tree for uncommitted changes, at
// F(5)=5s, deduplicating on the exact change set.
type GitWatcher struct {
	Dir      string
	lastHash string
}

func NewGitWatcher(dir string) *GitWatcher { return &GitWatcher{Dir: dir} }

func (w *GitWatcher) Name() string             { return "git_watcher" }
func (w *GitWatcher) Interval() time.Duration  { return fib(5) }
func (w *GitWatcher) TargetTier() kernel.Tier  { return kernel.TierReflex }

func (w *GitWatcher) Sense(ctx context.Context) (*kernel.Cell, error) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, "git", "status", "--porcelain")
	cmd.Dir = w.Dir
	out, err := cmd.Output()
	if err != nil {
		w.lastHash = ""
		return nil, nil
	}
	changes := strings.TrimSpace(string(out))
	if changes == "" {
		w.lastHash = ""
		return nil, nil
	}
	if changes == w.lastHash {
		return nil, nil
	}
	w.lastHash = changes
	lines := strings.Split(changes, "\n")

	cell := kernel.NewCell(kernel.RealityCode, kernel.AnalysisPerceive, kernel.TimePresent, 0,
		truncate(changes, 1500),
		fmt.Sprintf("Git watcher: %d changed file(s) detected", len(lines)),
		0.0, minf(float64(len(lines))/50.0, 1.0), 0.001, 0)
	return &cell, nil
}

// HealthWatcher observes tier breaker health, at F(8)=21s, emitting only
// when at least one tier's breaker is not CLOSED.
type HealthWatcher struct {
	Snapshot func() map[kernel.Tier]string // tier -> breaker state name
}

func NewHealthWatcher(snapshot func() map[kernel.Tier]string) *HealthWatcher {
	return &HealthWatcher{Snapshot: snapshot}
}

func (w *HealthWatcher) Name() string            { return "health_watcher" }
func (w *HealthWatcher) Interval() time.Duration { return fib(8) }
func (w *HealthWatcher) TargetTier() kernel.Tier { return kernel.TierReflex }

func (w *HealthWatcher) Sense(ctx context.Context) (*kernel.Cell, error) {
	if w.Snapshot == nil {
		return nil, nil
	}
	states := w.Snapshot()
	degraded := 0
	worst := "CLOSED"
	for _, s := range states {
		if s != "CLOSED" {
			degraded++
			if s == "OPEN" {
				worst = "OPEN"
			} else if worst != "OPEN" {
				worst = s
			}
		}
	}
	if degraded == 0 {
		return nil, nil
	}
	risk := 0.2
	if worst == "OPEN" {
		risk = 0.5
	}
	cell := kernel.NewCell(kernel.RealityCynic, kernel.AnalysisPerceive, kernel.TimePresent, 0,
		fmt.Sprintf("degraded_tiers=%d worst=%s", degraded, worst),
		fmt.Sprintf("Health watcher: %d tier(s) degraded, worst=%s", degraded, worst),
		risk, 0.3, 0.001, 0)
	return &cell, nil
}

// SelfWatcher observes Q-table learning health, at F(10)=55s.
type SelfWatcher struct {
	Stats func() (entries, updates int)
}

func NewSelfWatcher(stats func() (int, int)) *SelfWatcher {
	return &SelfWatcher{Stats: stats}
}

func (w *SelfWatcher) Name() string            { return "self_watcher" }
func (w *SelfWatcher) Interval() time.Duration { return fib(10) }
func (w *SelfWatcher) TargetTier() kernel.Tier { return kernel.TierMicro }

func (w *SelfWatcher) Sense(ctx context.Context) (*kernel.Cell, error) {
	if w.Stats == nil {
		return nil, nil
	}
	entries, updates := w.Stats()
	cell := kernel.NewCell(kernel.RealityCynic, kernel.AnalysisLearn, kernel.TimePresent, 0,
		fmt.Sprintf("states=%d total_updates=%d", entries, updates),
		fmt.Sprintf("Self-watcher: %d states learned, %d total updates", entries, updates),
		0.0, 0.2, 0.003, 0)
	return &cell, nil
}

// MarketWatcher polls an external price feed at F(9)=34s. It emits on its
// first reading, then only when the price moves by at least
// marketMoveThreshold or the 24h change is 5% or more.
const marketMoveThreshold = 0.02

// PriceFetcher fetches the latest price and 24h change for a market.
type PriceFetcher func(ctx context.Context) (price, change24h float64, err error)

type MarketWatcher struct {
	Fetch     PriceFetcher
	lastPrice float64
}

func NewMarketWatcher(fetch PriceFetcher) *MarketWatcher {
	return &MarketWatcher{Fetch: fetch}
}

func (w *MarketWatcher) Name() string            { return "market_watcher" }
func (w *MarketWatcher) Interval() time.Duration { return fib(9) }
func (w *MarketWatcher) TargetTier() kernel.Tier { return kernel.TierReflex }

func (w *MarketWatcher) Sense(ctx context.Context) (*kernel.Cell, error) {
	if w.Fetch == nil {
		return nil, nil
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	price, change24h, err := w.Fetch(cctx)
	if err != nil || price <= 0 {
		return nil, nil
	}
	if w.lastPrice != 0 {
		move := absf(price-w.lastPrice) / w.lastPrice
		if move < marketMoveThreshold && absf(change24h) < 5.0 {
			w.lastPrice = price
			return nil, nil
		}
	}
	w.lastPrice = price
	volatility := minf(absf(change24h)/20.0, 1.0)
	cell := kernel.NewCell(kernel.RealityMarket, kernel.AnalysisPerceive, kernel.TimePresent, 0,
		fmt.Sprintf("sol_usd=%.2f change_24h_pct=%.4f", price, change24h),
		fmt.Sprintf("Market watcher: SOL=$%.2f (%+.2f%% 24h)", price, change24h),
		volatility, 0.2, 0.001, 0)
	return &cell, nil
}

// ChainState is the minimal liveness signal a SolanaWatcher needs.
type ChainState struct {
	Slot uint64
	TPS  float64
}

// ChainFetcher fetches current chain liveness.
type ChainFetcher func(ctx context.Context) (ChainState, error)

const (
	tpsWarningThreshold = 1000.0
)

// SolanaWatcher polls chain liveness at F(9)=34s, emitting only on
// anomalies (stuck slot or low TPS).
type SolanaWatcher struct {
	Fetch    ChainFetcher
	lastSlot uint64
	hasSlot  bool
}

func NewSolanaWatcher(fetch ChainFetcher) *SolanaWatcher {
	return &SolanaWatcher{Fetch: fetch}
}

func (w *SolanaWatcher) Name() string            { return "solana_watcher" }
func (w *SolanaWatcher) Interval() time.Duration { return fib(9) }
func (w *SolanaWatcher) TargetTier() kernel.Tier { return kernel.TierReflex }

func (w *SolanaWatcher) Sense(ctx context.Context) (*kernel.Cell, error) {
	if w.Fetch == nil {
		return nil, nil
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	state, err := w.Fetch(cctx)
	if err != nil {
		return nil, nil
	}
	slotStuck := w.hasSlot && state.Slot == w.lastSlot
	lowTPS := state.TPS > 0 && state.TPS < tpsWarningThreshold
	w.lastSlot, w.hasSlot = state.Slot, true
	if !slotStuck && !lowTPS {
		return nil, nil
	}
	risk := 0.2
	reason := fmt.Sprintf("low TPS=%.0f", state.TPS)
	if slotStuck {
		risk = 0.4
		reason = fmt.Sprintf("slot stuck at %d", state.Slot)
	}
	cell := kernel.NewCell(kernel.RealitySolana, kernel.AnalysisPerceive, kernel.TimePresent, 0,
		fmt.Sprintf("slot=%d tps=%.1f slot_stuck=%v low_tps=%v", state.Slot, state.TPS, slotStuck, lowTPS),
		"Solana watcher anomaly: "+reason,
		risk, 0.3, 0.001, 0)
	return &cell, nil
}

// SocialSignal is one unread entry from an external social-feed hook.
type SocialSignal struct {
	Source    string
	Sentiment float64 // [-1,1]
	Volume    float64
	Topic     string
}

// SocialFetcher returns the next unread social signal, or nil if none.
type SocialFetcher func(ctx context.Context) (*SocialSignal, error)

// SocialWatcher polls an external social-feed hook at F(11)=89s.
type SocialWatcher struct {
	Fetch SocialFetcher
}

func NewSocialWatcher(fetch SocialFetcher) *SocialWatcher {
	return &SocialWatcher{Fetch: fetch}
}

func (w *SocialWatcher) Name() string            { return "social_watcher" }
func (w *SocialWatcher) Interval() time.Duration { return fib(11) }
func (w *SocialWatcher) TargetTier() kernel.Tier { return kernel.TierMicro }

func (w *SocialWatcher) Sense(ctx context.Context) (*kernel.Cell, error) {
	if w.Fetch == nil {
		return nil, nil
	}
	sig, err := w.Fetch(ctx)
	if err != nil || sig == nil {
		return nil, nil
	}
	risk := clamp(0.5-sig.Sentiment*0.5, 0, 1)
	cell := kernel.NewCell(kernel.RealitySocial, kernel.AnalysisPerceive, kernel.TimePresent, 0,
		fmt.Sprintf("source=%s sentiment=%.3f volume=%.1f topic=%s", sig.Source, sig.Sentiment, sig.Volume, sig.Topic),
		fmt.Sprintf("Social watcher: %s sentiment=%+.2f volume=%.0f topic=%s", sig.Source, sig.Sentiment, sig.Volume, sig.Topic),
		risk, 0.3, 0.002, 0)
	return &cell, nil
}

// pressure levels shared by DiskWatcher and MemoryWatcher; φ-derived.
const (
	pressureWarn      = "WARN"
	pressureCritical  = "CRITICAL"
	pressureEmergency = "EMERGENCY"
	pressureOK        = "OK"
)

// pressureWarnThreshold etc. are shared by DiskWatcher and MemoryWatcher;
// φ-derived, matching internal/lod's memory/disk threshold table.
const (
	pressureWarnThreshold      = kernel.PhiInv // 0.618
	pressureCriticalThreshold  = 0.764
	pressureEmergencyThreshold = 0.90
)

func classifyPressure(usedPct float64) string {
	switch {
	case usedPct >= pressureEmergencyThreshold:
		return pressureEmergency
	case usedPct >= pressureCriticalThreshold:
		return pressureCritical
	case usedPct >= pressureWarnThreshold:
		return pressureWarn
	default:
		return pressureOK
	}
}

// DiskWatcher observes filesystem usage at F(9)=34s, deduplicating on
// pressure-level transitions.
type DiskWatcher struct {
	Path      string
	lastLevel string
}

func NewDiskWatcher(path string) *DiskWatcher {
	if path == "" {
		path = "."
	}
	return &DiskWatcher{Path: path}
}

func (w *DiskWatcher) Name() string            { return "disk_watcher" }
func (w *DiskWatcher) Interval() time.Duration { return fib(9) }
func (w *DiskWatcher) TargetTier() kernel.Tier { return kernel.TierReflex }

func (w *DiskWatcher) Sense(ctx context.Context) (*kernel.Cell, error) {
	usage, err := disk.UsageWithContext(ctx, w.Path)
	if err != nil || usage.Total == 0 {
		return nil, nil
	}
	usedPct := usage.UsedPercent / 100
	pressure := classifyPressure(usedPct)

	if pressure == pressureOK {
		w.lastLevel = ""
		return nil, nil
	}
	if pressure == w.lastLevel {
		return nil, nil
	}
	w.lastLevel = pressure

	risk := map[string]float64{pressureWarn: 0.4, pressureCritical: 0.7, pressureEmergency: 1.0}[pressure]
	freeGB := float64(usage.Free) / (1 << 30)
	cell := kernel.NewCell(kernel.RealityCynic, kernel.AnalysisPerceive, kernel.TimePresent, 0,
		fmt.Sprintf("disk_used_pct=%.1f disk_free_gb=%.2f disk_pressure=%s", usedPct*100, freeGB, pressure),
		fmt.Sprintf("Disk watcher: %.1f%% full (%.1f GB free) — %s", usedPct*100, freeGB, pressure),
		risk, 0.2, 0.001, 0)
	return &cell, nil
}

// MemoryWatcher observes RAM usage at F(9)=34s, deduplicating on
// pressure-level transitions.
type MemoryWatcher struct {
	lastLevel string
}

func NewMemoryWatcher() *MemoryWatcher { return &MemoryWatcher{} }

func (w *MemoryWatcher) Name() string            { return "memory_watcher" }
func (w *MemoryWatcher) Interval() time.Duration { return fib(9) }
func (w *MemoryWatcher) TargetTier() kernel.Tier { return kernel.TierReflex }

func (w *MemoryWatcher) Sense(ctx context.Context) (*kernel.Cell, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil || vm.Total == 0 {
		return nil, nil
	}
	usedPct := vm.UsedPercent / 100
	pressure := classifyPressure(usedPct)

	if pressure == pressureOK {
		w.lastLevel = ""
		return nil, nil
	}
	if pressure == w.lastLevel {
		return nil, nil
	}
	w.lastLevel = pressure

	risk := map[string]float64{pressureWarn: 0.3, pressureCritical: 0.6, pressureEmergency: 0.9}[pressure]
	freeGB := float64(vm.Available) / (1 << 30)
	cell := kernel.NewCell(kernel.RealityCynic, kernel.AnalysisPerceive, kernel.TimePresent, 0,
		fmt.Sprintf("mem_used_pct=%.1f mem_free_gb=%.2f mem_pressure=%s", usedPct*100, freeGB, pressure),
		fmt.Sprintf("Memory watcher: %.1f%% RAM used (%.1f GB free) — %s", usedPct*100, freeGB, pressure),
		risk, 0.2, 0.001, 0)
	return &cell, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absf(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
