package traffic

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"consensus-simulator/internal/types"
)

// ErrInvalidMix - неизвестный тип задачи или смесь без положительных весов.
var ErrInvalidMix = errors.New("invalid job mix")

var knownKinds = map[types.JobKind]bool{
	types.JobMine:     true,
	types.JobValidate: true,
	types.JobFork:     true,
	types.JobResolve:  true,
}

type weightedKind struct {
	kind   types.JobKind
	weight int
}

// ParseMix переводит веса из конфигурации в смесь задач.
func ParseMix(raw map[string]int) (map[types.JobKind]int, error) {
	mix := make(map[types.JobKind]int, len(raw))
	total := 0
	for name, w := range raw {
		kind := types.JobKind(name)
		if !knownKinds[kind] {
			return nil, errors.WithMessagef(ErrInvalidMix, "unknown job kind %q", name)
		}
		if w < 0 {
			return nil, errors.WithMessagef(ErrInvalidMix, "negative weight for %q", name)
		}
		mix[kind] = w
		total += w
	}
	if total == 0 {
		return nil, errors.WithMessage(ErrInvalidMix, "no positive weight")
	}
	return mix, nil
}

// Generator генерирует задачи с фиксированной частотой по взвешенной смеси.
type Generator struct {
	rate      float64 // jobs per second
	kinds     []weightedKind
	total     int
	rng       *rand.Rand
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	jobsSent  int64
	perKind   map[types.JobKind]int64
	mu        sync.RWMutex
	startTime time.Time
}

func NewGenerator(rate float64, mix map[types.JobKind]int, seed int64) *Generator {
	if rate <= 0 {
		rate = 1
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := &Generator{
		rate:      rate,
		rng:       rand.New(rand.NewSource(seed)),
		stopChan:  make(chan struct{}),
		perKind:   make(map[types.JobKind]int64),
		startTime: time.Now(),
	}
	for kind, w := range mix {
		if w > 0 {
			g.kinds = append(g.kinds, weightedKind{kind: kind, weight: w})
			g.total += w
		}
	}
	// порядок map случаен, сортируем для воспроизводимости по seed
	sort.Slice(g.kinds, func(i, j int) bool { return g.kinds[i].kind < g.kinds[j].kind })
	return g
}

// Start отправляет задачи в jobs до вызова Stop. Отправка ждет потребителя,
// поэтому медленный потребитель снижает фактическую частоту.
func (g *Generator) Start(jobs chan<- types.Job) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return
	}

	g.running = true
	g.startTime = time.Now()
	g.stopChan = make(chan struct{})

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.generateLoop(jobs)
	}()

	slog.Info("Генератор нагрузки запущен", "rate", g.rate, "kinds", len(g.kinds))
}

func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	close(g.stopChan)
	g.running = false
	g.mu.Unlock()

	g.wg.Wait()
	slog.Info("Генератор нагрузки остановлен", "sent", g.Sent())
}

func (g *Generator) generateLoop(jobs chan<- types.Job) {
	interval := time.Duration(float64(time.Second) / g.rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			job := g.createJob()
			select {
			case jobs <- job:
				g.mu.Lock()
				g.jobsSent++
				g.perKind[job.Kind]++
				g.mu.Unlock()
			case <-g.stopChan:
				return
			}
		}
	}
}

func (g *Generator) createJob() types.Job {
	g.mu.Lock()
	defer g.mu.Unlock()

	return types.Job{
		ID:        fmt.Sprintf("job-%06d", g.jobsSent+1),
		Kind:      g.pickKind(),
		Timestamp: time.Now(),
	}
}

func (g *Generator) pickKind() types.JobKind {
	if g.total == 0 {
		return types.JobMine
	}

	r := g.rng.Intn(g.total)
	for _, k := range g.kinds {
		r -= k.weight
		if r < 0 {
			return k.kind
		}
	}
	return g.kinds[len(g.kinds)-1].kind
}

func (g *Generator) Sent() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.jobsSent
}

// GetStats возвращает число отправленных задач, фактическую частоту
// и разбивку по типам.
func (g *Generator) GetStats() (sent int64, rate float64, perKind map[types.JobKind]int64) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	duration := time.Since(g.startTime).Seconds()
	if duration > 0 {
		rate = float64(g.jobsSent) / duration
	}

	perKind = make(map[types.JobKind]int64, len(g.perKind))
	for k, v := range g.perKind {
		perKind[k] = v
	}
	return g.jobsSent, rate, perKind
}
