package risk

import (
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

type fakeSwitch struct {
	mu      sync.Mutex
	blocked map[string]bool
	calls   int
}

func (f *fakeSwitch) MarkAsBlocked(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.blocked[id] = true
}

func (f *fakeSwitch) IsBlocked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[id]
}

func TestAnalyzer(t *testing.T) {
	t.Run("здоровый агент не блокируется", func(t *testing.T) {
		ks := &fakeSwitch{blocked: map[string]bool{}}
		a := NewAnalyzer(ks, 30, zap.NewNop())
		a.Observe(domain.Agent{ID: "a1", HealthScore: 80})
		if ks.calls != 0 {
			t.Errorf("ожидалось 0 блокировок, получили %d", ks.calls)
		}
	})

	t.Run("агент ниже порога блокируется один раз", func(t *testing.T) {
		ks := &fakeSwitch{blocked: map[string]bool{}}
		a := NewAnalyzer(ks, 30, zap.NewNop())
		a.Observe(domain.Agent{ID: "a1", HealthScore: 20})
		a.Observe(domain.Agent{ID: "a1", HealthScore: 10})
		if ks.calls != 1 {
			t.Errorf("ожидалась 1 блокировка, получили %d", ks.calls)
		}
		if !ks.IsBlocked("a1") {
			t.Error("агент должен быть заблокирован")
		}
	})

	t.Run("нулевой порог отключает блокировку", func(t *testing.T) {
		ks := &fakeSwitch{blocked: map[string]bool{}}
		a := NewAnalyzer(ks, 0, zap.NewNop())
		if a.IsRequired(domain.Agent{ID: "a1", HealthScore: 0}) {
			t.Error("при пороге 0 блокировка не требуется")
		}
	})
}
