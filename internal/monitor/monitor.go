package monitor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"consensus-simulator/consensus"
	"consensus-simulator/internal/types"
)

const namespace = "simulator"

type gauges struct {
	confirmed   *prometheus.GaugeVec
	rounds      *prometheus.GaugeVec
	failed      *prometheus.GaugeVec
	successRate *prometheus.GaugeVec
	timeAvg     *prometheus.GaugeVec
	difficulty  *prometheus.GaugeVec
	forks       *prometheus.GaugeVec
	nodes       *prometheus.GaugeVec
}

func newGauges(reg prometheus.Registerer) *gauges {
	vec := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"algorithm"})
		reg.MustRegister(g)
		return g
	}

	return &gauges{
		confirmed:   vec("confirmed_blocks", "Blocks confirmed by the engine since its last reset."),
		rounds:      vec("rounds", "Consensus rounds attempted since the last reset."),
		failed:      vec("failed_rounds", "Consensus rounds that ended without a block."),
		successRate: vec("success_rate", "Share of rounds that produced a block."),
		timeAvg:     vec("consensus_time_avg_ms", "Moving average of the time to reach consensus on a block."),
		difficulty:  vec("difficulty", "Current proof-of-work difficulty."),
		forks:       vec("fork_count", "Forks simulated since the last reset."),
		nodes:       vec("participants", "Registered miners, validators or branches."),
	}
}

func (g *gauges) observe(m types.Metrics) {
	g.confirmed.WithLabelValues(m.Algorithm).Set(float64(m.ConfirmedBlocks))
	g.rounds.WithLabelValues(m.Algorithm).Set(float64(m.TotalRounds))
	g.failed.WithLabelValues(m.Algorithm).Set(float64(m.FailedRounds))
	g.successRate.WithLabelValues(m.Algorithm).Set(m.SuccessRate)
	g.timeAvg.WithLabelValues(m.Algorithm).Set(m.ConsensusTimeAvg)
	g.difficulty.WithLabelValues(m.Algorithm).Set(float64(m.Difficulty))
	g.forks.WithLabelValues(m.Algorithm).Set(float64(m.ForkCount))
	g.nodes.WithLabelValues(m.Algorithm).Set(float64(m.NodeCount))
}

// Monitor периодически снимает метрики всех систем, экспортирует последние
// значения в Prometheus и сохраняет историю в JSON, CSV и Markdown.
type Monitor struct {
	systems            []consensus.Simulator
	metricsHistory     map[string][]types.Metrics
	outputDir          string
	running            bool
	stopChan           chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.RWMutex
	collectionInterval time.Duration
	gauges             *gauges
}

// NewMonitor создает монитор с отчетами в outputDir и метриками в reg.
func NewMonitor(outputDir string, interval time.Duration, reg prometheus.Registerer) *Monitor {
	if outputDir == "" {
		outputDir = "results"
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &Monitor{
		metricsHistory:     make(map[string][]types.Metrics),
		outputDir:          outputDir,
		stopChan:           make(chan struct{}),
		collectionInterval: interval,
		gauges:             newGauges(reg),
	}
}

func (m *Monitor) AddSystem(system consensus.Simulator) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.systems = append(m.systems, system)
	m.metricsHistory[system.Name()] = make([]types.Metrics, 0)
}

func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// канал мог быть закрыт предыдущим Stop
	m.stopChan = make(chan struct{})
	m.running = true
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		m.collectionLoop()
	}()

	slog.Info("Монитор метрик запущен", "interval", m.collectionInterval, "systems", len(m.systems))
}

// Stop останавливает сбор, снимает финальные метрики и сохраняет отчеты.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}

	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	// ждем вне блокировки, иначе сбор не сможет завершиться
	m.wg.Wait()

	m.Collect()
	if err := m.SaveReports(); err != nil {
		return err
	}

	slog.Info("Монитор метрик остановлен")
	return nil
}

func (m *Monitor) collectionLoop() {
	ticker := time.NewTicker(m.collectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Collect()
		}
	}
}

// Collect снимает метрики со всех систем.
func (m *Monitor) Collect() {
	// копируем список, чтобы GetMetrics шел без блокировки монитора
	m.mu.RLock()
	systems := make([]consensus.Simulator, len(m.systems))
	copy(systems, m.systems)
	m.mu.RUnlock()

	for _, system := range systems {
		if system == nil {
			continue
		}

		metrics := system.GetMetrics()
		name := system.Name()

		m.mu.Lock()
		m.metricsHistory[name] = append(m.metricsHistory[name], metrics)
		m.mu.Unlock()

		m.gauges.observe(metrics)

		slog.Debug("Метрики собраны",
			"algorithm", name,
			"confirmed_blocks", metrics.ConfirmedBlocks,
			"rounds", metrics.TotalRounds,
			"consensus_time_avg_ms", metrics.ConsensusTimeAvg,
			"nodes", metrics.NodeCount)
	}
}

func (m *Monitor) GetMetricsHistory(name string) []types.Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Metrics, len(m.metricsHistory[name]))
	copy(out, m.metricsHistory[name])
	return out
}

// Latest возвращает последний снимок каждой системы,
// отсортированный по имени алгоритма.
func (m *Monitor) Latest() []types.Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Metrics, 0, len(m.metricsHistory))
	for _, name := range m.namesLocked() {
		if h := m.metricsHistory[name]; len(h) > 0 {
			out = append(out, h[len(h)-1])
		}
	}
	return out
}

func (m *Monitor) namesLocked() []string {
	names := make([]string, 0, len(m.metricsHistory))
	for name := range m.metricsHistory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SaveReports сохраняет <name>_metrics.json, <name>_metrics.csv
// и summary_report.md в каталог результатов.
func (m *Monitor) SaveReports() error {
	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %s", m.outputDir)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range m.namesLocked() {
		history := m.metricsHistory[name]
		if len(history) == 0 {
			continue
		}
		if err := m.saveJSON(name, history); err != nil {
			return err
		}
		if err := m.saveCSV(name, history); err != nil {
			return err
		}
	}
	return m.generateSummaryReport()
}

func (m *Monitor) saveJSON(name string, history []types.Metrics) error {
	filename := filepath.Join(m.outputDir, fmt.Sprintf("%s_metrics.json", strings.ToLower(name)))

	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", filename)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(history); err != nil {
		return errors.Wrapf(err, "failed to write JSON metrics for %s", name)
	}

	slog.Info("Метрики сохранены", "algorithm", name, "file", filename)
	return nil
}

var csvHeader = []string{
	"timestamp", "algorithm", "node_count", "confirmed_blocks", "total_rounds",
	"failed_rounds", "success_rate", "consensus_time_avg_ms", "difficulty",
	"fork_count", "branches",
}

func (m *Monitor) saveCSV(name string, history []types.Metrics) error {
	filename := filepath.Join(m.outputDir, fmt.Sprintf("%s_metrics.csv", strings.ToLower(name)))

	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", filename)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return errors.Wrapf(err, "failed to write CSV header for %s", name)
	}

	for _, metric := range history {
		record := []string{
			metric.Timestamp.Format(time.RFC3339),
			metric.Algorithm,
			strconv.Itoa(metric.NodeCount),
			strconv.FormatInt(metric.ConfirmedBlocks, 10),
			strconv.FormatInt(metric.TotalRounds, 10),
			strconv.FormatInt(metric.FailedRounds, 10),
			fmt.Sprintf("%.2f", metric.SuccessRate),
			fmt.Sprintf("%.2f", metric.ConsensusTimeAvg),
			strconv.Itoa(metric.Difficulty),
			strconv.Itoa(metric.ForkCount),
			strconv.Itoa(metric.Branches),
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write CSV record for %s", name)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrapf(err, "failed to flush CSV metrics for %s", name)
	}

	slog.Info("CSV метрики сохранены", "algorithm", name, "file", filename)
	return nil
}

func (m *Monitor) generateSummaryReport() error {
	filename := filepath.Join(m.outputDir, "summary_report.md")

	var b strings.Builder
	b.WriteString("# Consensus simulation summary\n\n")
	b.WriteString("Generated: " + time.Now().Format("2006-01-02 15:04:05") + "\n\n")
	b.WriteString("## Results\n\n")

	names := m.namesLocked()
	for _, name := range names {
		history := m.metricsHistory[name]
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]

		fmt.Fprintf(&b, "### %s\n\n", name)
		fmt.Fprintf(&b, "- **Participants:** %d\n", last.NodeCount)
		fmt.Fprintf(&b, "- **Confirmed blocks:** %d\n", last.ConfirmedBlocks)
		fmt.Fprintf(&b, "- **Rounds:** %d (%d failed)\n", last.TotalRounds, last.FailedRounds)
		fmt.Fprintf(&b, "- **Success rate:** %.1f%%\n", last.SuccessRate*100)
		if last.ConsensusTimeAvg > 0 {
			fmt.Fprintf(&b, "- **Average block time:** %.2f ms\n", last.ConsensusTimeAvg)
		}
		if last.Difficulty > 0 {
			fmt.Fprintf(&b, "- **Difficulty:** %d\n", last.Difficulty)
		}
		if last.ForkCount > 0 {
			fmt.Fprintf(&b, "- **Forks:** %d, branches tracked: %d\n", last.ForkCount, last.Branches)
		}
		if last.Notes != "" {
			fmt.Fprintf(&b, "- **Notes:** %s\n", last.Notes)
		}

		b.WriteString("\n**Takeaways:**\n")
		switch name {
		case "PoW":
			b.WriteString("- Miners race on the same candidate, only the first valid nonce is kept\n")
			b.WriteString("- Difficulty reacts to every block on its own and may oscillate\n")
			b.WriteString("- Higher hash power shortens the search but never guarantees a win\n")
		case "PoS":
			b.WriteString("- Selection frequency converges to the stake share\n")
			b.WriteString("- Rewards are proportional to stake, so large stakes compound\n")
		case "Fork":
			b.WriteString("- Network delay lets two miners extend the same tip\n")
			b.WriteString("- The longest branch wins; on a tie the first branch is kept\n")
		}
		b.WriteString("\n---\n\n")
	}

	b.WriteString("## Comparison\n\n")
	b.WriteString("| Algorithm | Participants | Confirmed blocks | Rounds | Success rate | Avg block time |\n")
	b.WriteString("|-----------|--------------|------------------|--------|--------------|----------------|\n")
	for _, name := range names {
		history := m.metricsHistory[name]
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %.1f%% | %.2f ms |\n",
			name, last.NodeCount, last.ConfirmedBlocks, last.TotalRounds,
			last.SuccessRate*100, last.ConsensusTimeAvg)
	}

	if err := os.WriteFile(filename, []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, "failed to write summary report")
	}

	slog.Info("Сводный отчет сохранен", "file", filename)
	return nil
}
