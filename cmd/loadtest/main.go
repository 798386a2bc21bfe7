// Load-генератор для биллингового сервиса: публикует сценарии команд
// кассовых терминалов в Kafka и измеряет латентность публикации.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

type loadMode string

const (
	modeScan               loadMode = "scan"
	modeScanCheckout       loadMode = "scan-checkout"
	modeScanRedeemCheckout loadMode = "scan-redeem-checkout"

	resultOK    = "ok"
	resultError = "error"

	scenarioSeries = "scenario"

	defaultQty = 1.0
)

type config struct {
	brokers      []string
	topic        string
	total        int
	totalSet     bool
	duration     time.Duration
	concurrency  int
	terminals    int
	itemsPerBill int
	mode         loadMode
	redeemRate   int
	productIDs   []string
	payment      string
	operatorTag  string
	outputPath   string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type commandReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Results   map[string]int64 `json:"results"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time                `json:"started_at"`
	DurationSeconds   float64                  `json:"duration_seconds"`
	TotalScenarios    int64                    `json:"total_scenarios"`
	SuccessScenarios  int64                    `json:"success_scenarios"`
	FailedScenarios   int64                    `json:"failed_scenarios"`
	ErrorRate         float64                  `json:"error_rate"`
	RPS               float64                  `json:"rps"`
	ScenarioLatencyMs latencySummary           `json:"scenario_latency_ms"`
	Commands          map[string]commandReport `json:"commands"`
}

// series накапливает замеры по одному типу команды (или по сценарию целиком).
type series struct {
	outcomes  map[string]int64
	samplesMs []float64
}

func (s *series) observe(latencyMs float64, result string) {
	s.outcomes[result]++
	s.samplesMs = append(s.samplesMs, latencyMs)
}

func (s *series) export() commandReport {
	calls := int64(len(s.samplesMs))
	success := s.outcomes[resultOK]
	failed := calls - success

	outcomesCopy := make(map[string]int64, len(s.outcomes))
	for outcome, count := range s.outcomes {
		outcomesCopy[outcome] = count
	}

	return commandReport{
		Calls:     calls,
		Success:   success,
		Failed:    failed,
		ErrorRate: ratio(failed, calls),
		Results:   outcomesCopy,
		LatencyMs: buildLatencySummary(s.samplesMs),
	}
}

type collector struct {
	mu     sync.Mutex
	series map[string]*series
}

func newCollector() *collector {
	return &collector{series: make(map[string]*series)}
}

func (c *collector) record(command string, latency time.Duration, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[command]
	if !ok {
		s = &series{outcomes: make(map[string]int64)}
		c.series[command] = s
	}
	s.observe(latency.Seconds()*1000, result)
}

func (c *collector) snapshot(name string) (commandReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[name]
	if !ok {
		return commandReport{}, false
	}
	return s.export(), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Commands:        make(map[string]commandReport, len(c.series)),
	}
	for name, s := range c.series {
		result.Commands[name] = s.export()
	}

	if scenario, ok := result.Commands[scenarioSeries]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func parseConfig() (config, error) {
	var (
		cfg           config
		brokersValue  string
		productsValue string
		modeValue     string
		durationValue string
	)

	flag.StringVar(&brokersValue, "brokers", "localhost:9092", "comma-separated Kafka broker list")
	flag.StringVar(&cfg.topic, "topic", kafka.TopicTerminalCommands, "terminal command topic")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.terminals, "terminals", 8, "number of simulated terminals (Kafka keys)")
	flag.IntVar(&cfg.itemsPerBill, "items", 3, "products scanned per bill")
	flag.StringVar(&modeValue, "mode", string(modeScan), "load mode: scan | scan-checkout | scan-redeem-checkout")
	flag.IntVar(&cfg.redeemRate, "redeem-rate", 0, "wallet redeem probability in percent for scan-checkout mode (0..100)")
	flag.StringVar(&productsValue, "products", "LOAD-SKU-1,LOAD-SKU-2,LOAD-SKU-3", "comma-separated product IDs to scan")
	flag.StringVar(&cfg.payment, "payment", "cash", "payment method for checkout commands")
	flag.StringVar(&cfg.operatorTag, "operator-tag", "load", "operator id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	// Явно переданный -total в duration-режиме становится верхней границей.
	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	if cfg.mode, err = parseMode(modeValue); err != nil {
		return cfg, err
	}
	cfg.brokers = splitList(brokersValue)
	cfg.productIDs = splitList(productsValue)

	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	switch {
	case len(cfg.brokers) == 0:
		return errors.New("brokers are required")
	case strings.TrimSpace(cfg.topic) == "":
		return errors.New("topic is required")
	case cfg.duration < 0:
		return errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case cfg.terminals <= 0:
		return errors.New("terminals must be > 0")
	case cfg.itemsPerBill <= 0:
		return errors.New("items must be > 0")
	case cfg.redeemRate < 0 || cfg.redeemRate > 100:
		return errors.New("redeem-rate must be between 0 and 100")
	case len(cfg.productIDs) == 0:
		return errors.New("products are required")
	case strings.TrimSpace(cfg.payment) == "":
		return errors.New("payment is required")
	case strings.TrimSpace(cfg.operatorTag) == "":
		return errors.New("operator-tag is required")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	switch mode {
	case modeScan, modeScanCheckout, modeScanRedeemCheckout:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// commandSender абстрагирует публикацию для тестов.
type commandSender interface {
	PublishEvent(topic string, key string, event interface{}) error
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		fail("invalid config: %v", err)
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		fail("failed to create kafka producer: %v", err)
	}
	defer func() {
		_ = producer.Close()
	}()

	result := runLoad(producer, cfg)
	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fail("failed to write report: %v", err)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func fail(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// runLoad прогоняет сценарии пулом воркеров и собирает итоговый отчёт.
func runLoad(sender commandSender, cfg config) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(sender, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	// Count-режим: фиксированное число сценариев.
	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	stop := time.NewTimer(cfg.duration)
	defer stop.Stop()
	for i := 0; !cfg.totalSet || i < cfg.total; i++ {
		select {
		case <-stop.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario последовательно публикует команды одного чека:
// сканирование товаров, опционально покупатель и списание из кошелька,
// затем checkout. Все команды уходят с одним TerminalID,
// что гарантирует их последовательную обработку сервисом.
func runScenario(sender commandSender, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	defer func() {
		result := resultOK
		if err != nil {
			result = resultError
		}
		col.record(scenarioSeries, time.Since(scenarioStart), result)
	}()

	terminalID := fmt.Sprintf("lt-terminal-%d", index%cfg.terminals)
	operatorID := fmt.Sprintf("%s-%s-%d", cfg.operatorTag, runID, index)

	for i := 0; i < cfg.itemsPerBill; i++ {
		err = sendCommand(sender, cfg.topic, kafka.TerminalCommand{
			Type:       kafka.CommandAddItem,
			TerminalID: terminalID,
			OperatorID: operatorID,
			ProductID:  cfg.productIDs[(index+i)%len(cfg.productIDs)],
			Quantity:   defaultQty,
		}, col)
		if err != nil {
			return err
		}
	}

	// Чистый scan-прогон не доводит чек до оплаты, а сбрасывает его.
	if cfg.mode == modeScan {
		err = sendCommand(sender, cfg.topic, kafka.TerminalCommand{
			Type:       kafka.CommandClearBill,
			TerminalID: terminalID,
			OperatorID: operatorID,
		}, col)
		return err
	}

	err = sendCommand(sender, cfg.topic, kafka.TerminalCommand{
		Type:           kafka.CommandSetCustomer,
		TerminalID:     terminalID,
		OperatorID:     operatorID,
		CustomerName:   fmt.Sprintf("Load Customer %d", index),
		CustomerMobile: fmt.Sprintf("99%08d", index%100000000),
	}, col)
	if err != nil {
		return err
	}

	if cfg.mode == modeScanRedeemCheckout || (cfg.mode == modeScanCheckout && shouldRedeem(index, cfg.redeemRate)) {
		err = sendCommand(sender, cfg.topic, kafka.TerminalCommand{
			Type:       kafka.CommandRedeemWallet,
			TerminalID: terminalID,
			OperatorID: operatorID,
		}, col)
		if err != nil {
			return err
		}
	}

	err = sendCommand(sender, cfg.topic, kafka.TerminalCommand{
		Type:          kafka.CommandCheckout,
		TerminalID:    terminalID,
		OperatorID:    operatorID,
		PaymentMethod: cfg.payment,
	}, col)
	return err
}

func sendCommand(sender commandSender, topic string, cmd kafka.TerminalCommand, col *collector) error {
	start := time.Now()
	err := sender.PublishEvent(topic, cmd.TerminalID, cmd)
	result := resultOK
	if err != nil {
		result = resultError
	}
	col.record(string(cmd.Type), time.Since(start), result)
	return err
}

func shouldRedeem(index, redeemRate int) bool {
	if redeemRate <= 0 {
		return false
	}
	if redeemRate >= 100 {
		return true
	}
	return index%100 < redeemRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cleanPath, data, 0o600)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	lat := result.ScenarioLatencyMs
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	commandNames := make([]string, 0, len(result.Commands))
	for name := range result.Commands {
		if name != scenarioSeries {
			commandNames = append(commandNames, name)
		}
	}
	sort.Strings(commandNames)
	for _, name := range commandNames {
		stats := result.Commands[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует значение между соседними отсчётами.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
