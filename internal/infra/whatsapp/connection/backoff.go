package connection

import (
	"time"

	domain "zapgate/internal/domain/session"
)

// BackoffPolicy descreve as duas fases da política de reconexão:
// uma fase rápida exponencial e uma fase de resiliência com horários fixos.
type BackoffPolicy struct {
	FastAttempts    int
	FastBase        time.Duration
	FastMax         time.Duration
	ResilienceSteps []time.Duration
	MaxDuration     time.Duration
}

// NextDelay calcula o atraso antes da tentativa de número attempt (1-based)
// e a fase correspondente. Função pura: o agendamento em si fica no
// ConnectionManager.
//
// Fase rápida (1..FastAttempts): min(base × 2^(n-1), max).
// Fase de resiliência: percorre ResilienceSteps ciclicamente
// (módulo o tamanho da agenda).
func (p BackoffPolicy) NextDelay(attempt int) (time.Duration, domain.ReconnectMode) {
	if attempt < 1 {
		attempt = 1
	}

	if attempt <= p.FastAttempts {
		delay := p.FastBase << (attempt - 1)
		if delay > p.FastMax || delay <= 0 {
			delay = p.FastMax
		}
		return delay, domain.ReconnectFast
	}

	if len(p.ResilienceSteps) == 0 {
		return p.FastMax, domain.ReconnectResilience
	}

	idx := (attempt - p.FastAttempts - 1) % len(p.ResilienceSteps)
	return p.ResilienceSteps[idx], domain.ReconnectResilience
}

// Exhausted informa se o relógio de resiliência estourou o teto.
// O relógio começa a contar na entrada da fase de resiliência.
func (p BackoffPolicy) Exhausted(resilienceStart time.Time, now time.Time) bool {
	if resilienceStart.IsZero() {
		return false
	}
	return now.Sub(resilienceStart) >= p.MaxDuration
}
