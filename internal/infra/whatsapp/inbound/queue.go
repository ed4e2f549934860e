package inbound

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/message"
	"zapgate/pkg/logger"
)

// QueueOptions configura a fila durável de entrada
type QueueOptions struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	JobTimeout  time.Duration
}

// Processor consome um job reconstruído da fila
type Processor func(ctx context.Context, sessionID string, msg gateway.InboundMessage) error

// Queue é a fila durável de mensagens recebidas: jobs ficam no Postgres,
// então mensagens em processamento sobrevivem a um restart. Vários workers
// reivindicam jobs concorrentemente; cada job tem timeout e backoff próprios.
type Queue struct {
	repo    message.InboundRepository
	opts    QueueOptions
	process Processor
	log     logger.Logger

	nudge chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewQueue cria a fila de entrada; Start deve ser chamado para iniciar os workers
func NewQueue(repo message.InboundRepository, opts QueueOptions, process Processor, log logger.Logger) *Queue {
	return &Queue{
		repo:    repo,
		opts:    opts,
		process: process,
		log:     log.WithComponent("inbound-queue"),
		nudge:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start devolve jobs órfãos à fila e inicia os workers
func (q *Queue) Start(ctx context.Context) error {
	requeued, err := q.repo.RequeueStale(ctx, time.Now())
	if err != nil {
		return err
	}
	if requeued > 0 {
		q.log.Info().Int("jobs", requeued).Msg("Requeued orphaned inbound jobs from previous run")
	}

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.log.Info().Int("workers", q.opts.Concurrency).Msg("Inbound queue started")
	return nil
}

// Enqueue insere a mensagem na fila. Nunca bloqueia no processamento.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, msg gateway.InboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	job := &message.InboundJob{
		SessionID:  sessionID,
		Payload:    payload,
		ReceivedAt: msg.Timestamp,
	}
	if err := q.repo.Insert(ctx, job); err != nil {
		return err
	}

	select {
	case q.nudge <- struct{}{}:
	default:
	}
	return nil
}

// worker drena a fila até o shutdown
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	idle := time.NewTicker(time.Second)
	defer idle.Stop()

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		claimCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		job, err := q.repo.ClaimNext(claimCtx, time.Now())
		cancel()

		if err != nil {
			q.log.Warn().Err(err).Int("worker", id).Msg("Failed to claim inbound job")
			q.waitForWork(idle)
			continue
		}
		if job == nil {
			q.waitForWork(idle)
			continue
		}

		q.handle(job)
	}
}

func (q *Queue) waitForWork(idle *time.Ticker) {
	select {
	case <-q.stop:
	case <-q.nudge:
	case <-idle.C:
	}
}

// handle processa um job com timeout; sucesso remove, falha devolve com
// backoff exponencial até esgotar as tentativas
func (q *Queue) handle(job *message.InboundJob) {
	var msg gateway.InboundMessage
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		q.log.Error().Err(err).Int64("job_id", job.ID).Msg("Malformed inbound job payload, discarding")
		q.finalize(func(ctx context.Context) error { return q.repo.MarkFailed(ctx, job.ID, "malformed payload: "+err.Error()) })
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.opts.JobTimeout)
	err := q.process(ctx, job.SessionID, msg)
	cancel()

	if err == nil {
		q.finalize(func(ctx context.Context) error { return q.repo.Delete(ctx, job.ID) })
		return
	}

	attempts := job.Attempts + 1
	if attempts >= q.opts.MaxAttempts {
		q.log.Warn().
			Err(err).
			Int64("job_id", job.ID).
			Str("session_id", job.SessionID).
			Int("attempts", attempts).
			Msg("Inbound job exhausted attempts")
		q.finalize(func(ctx context.Context) error { return q.repo.MarkFailed(ctx, job.ID, err.Error()) })
		return
	}

	delay := q.opts.BackoffBase << (attempts - 1)
	q.log.Debug().
		Err(err).
		Int64("job_id", job.ID).
		Int("attempts", attempts).
		Dur("retry_in", delay).
		Msg("Inbound job failed, scheduling retry")
	q.finalize(func(ctx context.Context) error {
		return q.repo.Release(ctx, job.ID, attempts, time.Now().Add(delay), err.Error())
	})
}

func (q *Queue) finalize(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		q.log.Error().Err(err).Msg("Failed to finalize inbound job")
	}
}

// Shutdown encerra os workers, aguardando o job em curso até o prazo
func (q *Queue) Shutdown(ctx context.Context) {
	close(q.stop)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info().Msg("Inbound queue drained")
	case <-ctx.Done():
		q.log.Warn().Msg("Inbound queue shutdown deadline reached")
	}
}

// Stats retorna as contagens atuais da fila
func (q *Queue) Stats(ctx context.Context) (queued, active, failed int, err error) {
	return q.repo.Counts(ctx)
}

// PurgeOld remove jobs falhos antigos; usado pelo janitor da fila
func (q *Queue) PurgeOld(ctx context.Context, olderThan time.Time) (int, error) {
	return q.repo.PurgeOld(ctx, olderThan)
}
