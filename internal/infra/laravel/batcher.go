package laravel

import (
	"context"
	"sync"
	"time"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// BatcherOptions configura o coalescimento e os intervalos de flush
type BatcherOptions struct {
	BatchSize        int
	QRInterval       time.Duration
	StatusInterval   time.Duration
	QRMinGap         time.Duration
	StatusMinGapHigh time.Duration
	StatusMinGap     time.Duration
}

// statusEntry guarda o último status de uma sessão junto com a prioridade
type statusEntry struct {
	status   session.ReportedStatus
	priority session.Priority
}

// BatcherMetrics é um snapshot do estado interno do batcher
type BatcherMetrics struct {
	QRBatchSize        int       `json:"qrBatchSize"`
	StatusBatchSize    int       `json:"statusBatchSize"`
	LifecycleBatchSize int       `json:"lifecycleBatchSize"`
	QRFlushes          int64     `json:"qrFlushes"`
	StatusFlushes      int64     `json:"statusFlushes"`
	FailedFlushes      int64     `json:"failedFlushes"`
	LastQRFlush        time.Time `json:"lastQrFlush,omitempty"`
	LastStatusFlush    time.Time `json:"lastStatusFlush,omitempty"`
	CircuitState       string    `json:"circuitState"`
}

// Batcher coalesce atualizações de QR e status por sessão antes de enviar
// ao control plane. Última escrita vence; itens de alta prioridade são
// enviados primeiro e encurtam o intervalo de flush.
type Batcher struct {
	mu sync.Mutex

	qr        map[string]string
	status    map[string]statusEntry
	lifecycle []session.LifecycleEvent

	qrFlushes     int64
	statusFlushes int64
	failedFlushes int64

	lastQRFlush     time.Time
	lastStatusFlush time.Time

	opts   BatcherOptions
	plane  gateway.ControlPlane
	log    logger.Logger
	kickQR chan struct{}
	kickSt chan struct{}
	stop   chan struct{}
	done   sync.WaitGroup
}

// NewBatcher cria o batcher de saída; Run deve ser chamado para iniciar
// os flushes periódicos
func NewBatcher(opts BatcherOptions, plane gateway.ControlPlane, log logger.Logger) *Batcher {
	return &Batcher{
		qr:     make(map[string]string),
		status: make(map[string]statusEntry),
		opts:   opts,
		plane:  plane,
		log:    log.WithComponent("batcher"),
		kickQR: make(chan struct{}, 1),
		kickSt: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Enqueue implementa gateway.TaskSink. Nunca bloqueia além do mutex dos mapas.
func (b *Batcher) Enqueue(task gateway.OutboundTask) {
	b.mu.Lock()

	switch task.Kind {
	case gateway.TaskQR:
		b.qr[task.SessionID] = task.QR
		sizeHit := len(b.qr) >= b.opts.BatchSize
		b.mu.Unlock()
		if sizeHit {
			b.kick(b.kickQR)
		}
		return

	case gateway.TaskStatus:
		cur, exists := b.status[task.SessionID]
		entry := statusEntry{status: task.Status, priority: task.Priority}
		// Prioridade alta é preservada mesmo quando o valor é sobrescrito
		if exists && cur.priority == session.PriorityHigh {
			entry.priority = session.PriorityHigh
		}
		b.status[task.SessionID] = entry
		sizeHit := len(b.status) >= b.opts.BatchSize
		high := entry.priority == session.PriorityHigh
		b.mu.Unlock()
		if sizeHit || high {
			b.kick(b.kickSt)
		}
		return

	case gateway.TaskLifecycle:
		if task.Lifecycle != nil {
			b.lifecycle = append(b.lifecycle, *task.Lifecycle)
		}
		b.mu.Unlock()
		return
	}

	b.mu.Unlock()
}

func (b *Batcher) kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run inicia os loops de flush periódico; retorna imediatamente
func (b *Batcher) Run() {
	b.done.Add(2)
	go b.qrLoop()
	go b.statusLoop()
}

func (b *Batcher) qrLoop() {
	defer b.done.Done()

	ticker := time.NewTicker(b.opts.QRInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		case <-b.kickQR:
		}
		b.flushQR(context.Background())
	}
}

func (b *Batcher) statusLoop() {
	defer b.done.Done()

	ticker := time.NewTicker(b.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		case <-b.kickSt:
		}
		b.flushStatus(context.Background())
		b.flushLifecycle(context.Background())
	}
}

// flushQR drena o mapa de QRs respeitando o intervalo mínimo entre flushes
func (b *Batcher) flushQR(ctx context.Context) {
	b.mu.Lock()
	if len(b.qr) == 0 || time.Since(b.lastQRFlush) < b.opts.QRMinGap {
		b.mu.Unlock()
		return
	}

	items := make([]gateway.QRBatchItem, 0, len(b.qr))
	for sessionID, qr := range b.qr {
		items = append(items, gateway.QRBatchItem{SessionID: sessionID, QR: qr})
	}
	b.qr = make(map[string]string)
	b.lastQRFlush = time.Now()
	b.mu.Unlock()

	// O mutex é liberado antes da chamada HTTP
	if err := b.plane.PostQRBatch(ctx, items); err != nil {
		b.requeueQR(items)
		b.mu.Lock()
		b.failedFlushes++
		b.mu.Unlock()
		b.log.Warn().Err(err).Int("items", len(items)).Msg("QR batch flush failed, items requeued")
		return
	}

	b.mu.Lock()
	b.qrFlushes++
	b.mu.Unlock()
	b.log.Debug().Int("items", len(items)).Msg("QR batch flushed")
}

// flushStatus drena o mapa de status; o intervalo mínimo é menor quando
// há itens de alta prioridade pendentes
func (b *Batcher) flushStatus(ctx context.Context) {
	b.mu.Lock()
	if len(b.status) == 0 {
		b.mu.Unlock()
		return
	}

	minGap := b.opts.StatusMinGap
	for _, entry := range b.status {
		if entry.priority == session.PriorityHigh {
			minGap = b.opts.StatusMinGapHigh
			break
		}
	}
	if time.Since(b.lastStatusFlush) < minGap {
		b.mu.Unlock()
		return
	}

	drained := b.status
	b.status = make(map[string]statusEntry)
	b.lastStatusFlush = time.Now()
	b.mu.Unlock()

	// Alta prioridade primeiro no corpo do batch
	items := make([]gateway.StatusBatchItem, 0, len(drained))
	for sessionID, entry := range drained {
		if entry.priority == session.PriorityHigh {
			items = append(items, gateway.StatusBatchItem{SessionID: sessionID, Status: string(entry.status)})
		}
	}
	for sessionID, entry := range drained {
		if entry.priority != session.PriorityHigh {
			items = append(items, gateway.StatusBatchItem{SessionID: sessionID, Status: string(entry.status)})
		}
	}

	if err := b.plane.PostStatusBatch(ctx, items); err != nil {
		b.requeueStatus(drained)
		b.mu.Lock()
		b.failedFlushes++
		b.mu.Unlock()
		b.log.Warn().Err(err).Int("items", len(items)).Msg("Status batch flush failed, items requeued")
		return
	}

	b.mu.Lock()
	b.statusFlushes++
	b.mu.Unlock()
	b.log.Debug().Int("items", len(items)).Msg("Status batch flushed")
}

func (b *Batcher) flushLifecycle(ctx context.Context) {
	b.mu.Lock()
	if len(b.lifecycle) == 0 {
		b.mu.Unlock()
		return
	}
	events := b.lifecycle
	b.lifecycle = nil
	b.mu.Unlock()

	if err := b.plane.PostLifecycleBatch(ctx, events); err != nil {
		b.mu.Lock()
		b.lifecycle = append(events, b.lifecycle...)
		b.failedFlushes++
		b.mu.Unlock()
		b.log.Warn().Err(err).Int("events", len(events)).Msg("Lifecycle batch flush failed, events requeued")
	}
}

// requeueQR devolve itens falhos ao mapa sem sobrescrever valores mais novos
func (b *Batcher) requeueQR(items []gateway.QRBatchItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range items {
		if _, exists := b.qr[item.SessionID]; !exists {
			b.qr[item.SessionID] = item.QR
		}
	}
}

// requeueStatus devolve entradas falhas preservando prioridade, sem
// sobrescrever status mais novos
func (b *Batcher) requeueStatus(drained map[string]statusEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sessionID, entry := range drained {
		if cur, exists := b.status[sessionID]; exists {
			// O valor novo vence; a prioridade alta antiga é mantida
			if entry.priority == session.PriorityHigh && cur.priority != session.PriorityHigh {
				cur.priority = session.PriorityHigh
				b.status[sessionID] = cur
			}
			continue
		}
		b.status[sessionID] = entry
	}
}

// FlushAll força o flush síncrono de todos os lotes pendentes.
// Usado no shutdown, ignorando os intervalos mínimos.
func (b *Batcher) FlushAll(ctx context.Context) {
	b.mu.Lock()
	b.lastQRFlush = time.Time{}
	b.lastStatusFlush = time.Time{}
	b.mu.Unlock()

	b.flushQR(ctx)
	b.flushStatus(ctx)
	b.flushLifecycle(ctx)
}

// Stop encerra os loops periódicos após um flush final
func (b *Batcher) Stop(ctx context.Context) {
	close(b.stop)
	b.done.Wait()
	b.FlushAll(ctx)
}

// Metrics retorna um snapshot para o endpoint de métricas
func (b *Batcher) Metrics(circuitState string) BatcherMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BatcherMetrics{
		QRBatchSize:        len(b.qr),
		StatusBatchSize:    len(b.status),
		LifecycleBatchSize: len(b.lifecycle),
		QRFlushes:          b.qrFlushes,
		StatusFlushes:      b.statusFlushes,
		FailedFlushes:      b.failedFlushes,
		LastQRFlush:        b.lastQRFlush,
		LastStatusFlush:    b.lastStatusFlush,
		CircuitState:       circuitState,
	}
}
