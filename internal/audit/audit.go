// Package audit records security-relevant events. Recording never blocks the
// caller and never fails it; sink errors are only logged.
package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Event actions.
const (
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLogout         = "logout"
	ActionRefresh        = "token_refresh"
	ActionPasswordChange = "password_change"
	ActionTenantCreate   = "tenant_create"
	ActionTenantUpdate   = "tenant_update"
	ActionTenantStatus   = "tenant_status"
	ActionTenantRemove   = "tenant_remove"
	ActionModuleActivate = "module_activate"
	ActionUserCreate     = "user_create"
	ActionRoleCreate     = "role_create"
	ActionRoleAssign     = "role_assign"
)

type Event struct {
	Action    string
	Level     string
	TenantID  string
	UserID    string
	RequestID string
	Metadata  map[string]any
	At        time.Time
}

// Sink persists or forwards events.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
}

type Recorder struct {
	sinks   []Sink
	lg      *zap.SugaredLogger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewRecorder(lg *zap.SugaredLogger, timeout time.Duration, sinks ...Sink) *Recorder {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{sinks: sinks, lg: lg, timeout: timeout, now: time.Now}
}

// Record hands e to every sink in the background. The request context only
// contributes values; its cancellation does not abort the writes.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		r.lg.Warnw("audit event dropped", "err", errors.New("action is required"))
		return
	}
	if e.At.IsZero() {
		e.At = r.now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = middleware.GetReqID(ctx)
	}
	base := context.WithoutCancel(ctx)
	for _, s := range r.sinks {
		r.wg.Add(1)
		go func(s Sink) {
			defer r.wg.Done()
			sctx, cancel := context.WithTimeout(base, r.timeout)
			defer cancel()
			if err := s.Write(sctx, e); err != nil {
				r.lg.Warnw("audit sink failed", "sink", s.Name(), "action", e.Action, "err", err)
			}
		}(s)
	}
}

// Wait blocks until pending writes finish. Used on shutdown and in tests.
func (r *Recorder) Wait() { r.wg.Wait() }
