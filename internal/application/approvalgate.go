package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// ErrNotApprover is returned when an identity outside the approver set tries
// to approve or reject.
var ErrNotApprover = errors.New("identity is not an approver")

// ErrApprovalTimeout is the cancellation cause when the approval timeout expires.
var ErrApprovalTimeout = errors.New("approval timed out")

// DefaultApprovalPollInterval is how often the gate polls its channel.
const DefaultApprovalPollInterval = 15 * time.Second

// ApprovalGateOptions tunes an ApprovalGate. Zero values select defaults.
type ApprovalGateOptions struct {
	// Channel collects decisions. nil means decisions only arrive through
	// Approve and Reject (push).
	Channel driven.ApprovalChannel

	PollInterval time.Duration

	// Timeout bounds Wait. Zero waits until a decision or cancellation.
	Timeout time.Duration
}

// ApprovalGate is the manual approval state machine. All transitions are
// monotonic: once approved, rejected or cancelled the state never changes.
type ApprovalGate struct {
	approvers    map[string]string // lower-case identity -> configured spelling
	channel      driven.ApprovalChannel
	pollInterval time.Duration
	timeout      time.Duration

	mu        sync.Mutex
	state     model.ApprovalState
	decidedBy string
	done      chan struct{} // closed on the first terminal transition
}

// NewApprovalGate creates a gate. When required is false the gate is
// not_required and Wait returns immediately. Required without approvers is
// a configuration error.
func NewApprovalGate(required bool, approvers []string, opts ApprovalGateOptions) (*ApprovalGate, error) {
	cleaned := lo.Uniq(lo.Compact(lo.Map(approvers, func(a string, _ int) string {
		return strings.TrimSpace(a)
	})))

	g := &ApprovalGate{
		approvers:    make(map[string]string, len(cleaned)),
		channel:      opts.Channel,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		state:        model.ApprovalNotRequired,
		done:         make(chan struct{}),
	}
	if g.pollInterval <= 0 {
		g.pollInterval = DefaultApprovalPollInterval
	}

	if !required {
		close(g.done)
		return g, nil
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: approval is required but no approvers are configured", model.ErrConfiguration)
	}

	for _, a := range cleaned {
		g.approvers[strings.ToLower(a)] = a
	}
	g.state = model.ApprovalPending
	return g, nil
}

// State returns the current state.
func (g *ApprovalGate) State() model.ApprovalState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// DecidedBy returns the approver whose action resolved the gate, if any.
func (g *ApprovalGate) DecidedBy() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decidedBy
}

// Approvers returns the configured approver set, sorted.
func (g *ApprovalGate) Approvers() []string {
	names := lo.Values(g.approvers)
	sort.Strings(names)
	return names
}

// Approve records an approval from identity. Approvals after the gate is
// already approved are no-ops.
func (g *ApprovalGate) Approve(identity string) (model.ApprovalState, error) {
	return g.apply(identity, model.DecisionApprove)
}

// Reject records a rejection from identity.
func (g *ApprovalGate) Reject(identity string) (model.ApprovalState, error) {
	return g.apply(identity, model.DecisionReject)
}

// Cancel moves a pending gate to cancelled. It has no effect on a gate that
// already reached a terminal state.
func (g *ApprovalGate) Cancel() model.ApprovalState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == model.ApprovalPending {
		g.terminate(model.ApprovalCancelled, "")
	}
	return g.state
}

func (g *ApprovalGate) apply(identity string, decision model.ApprovalDecision) (model.ApprovalState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == model.ApprovalNotRequired {
		return g.state, nil
	}

	name, ok := g.approvers[strings.ToLower(strings.TrimSpace(identity))]
	if !ok {
		return g.state, fmt.Errorf("%w: %q", ErrNotApprover, identity)
	}

	if g.state != model.ApprovalPending {
		return g.state, nil
	}

	switch decision {
	case model.DecisionApprove:
		g.terminate(model.ApprovalApproved, name)
	case model.DecisionReject:
		g.terminate(model.ApprovalRejected, name)
	default:
		return g.state, fmt.Errorf("unknown approval decision %q", decision)
	}
	return g.state, nil
}

// terminate must be called with mu held and state pending.
func (g *ApprovalGate) terminate(state model.ApprovalState, by string) {
	g.state = state
	g.decidedBy = by
	close(g.done)
}

// Wait blocks until the gate is approved, rejected or cancelled. It returns
// nil for approved and not_required, an error wrapping
// model.ErrApprovalRejected for rejected, and one wrapping
// model.ErrApprovalCancelled when ctx ends or the timeout expires.
func (g *ApprovalGate) Wait(ctx context.Context, req model.ApprovalRequest) error {
	if g.State() == model.ApprovalNotRequired {
		return nil
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, g.timeout, ErrApprovalTimeout)
		defer cancel()
	}

	var handle *model.ApprovalHandle
	if g.channel != nil {
		req.Approvers = g.Approvers()
		h, err := g.channel.Request(ctx, req)
		if err != nil {
			return fmt.Errorf("requesting approval: %w", err)
		}
		handle = &h
		slog.Info("approval requested",
			"environment", req.Environment,
			"ref", req.Ref.RefLabel,
			"approvers", req.Approvers,
			"url", h.URL,
		)
	} else {
		slog.Info("waiting for approval", "environment", req.Environment, "approvers", g.Approvers())
	}

	err := g.waitLoop(ctx, handle)

	if handle != nil {
		// The request context may already be done; resolving the channel is best effort.
		resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if rerr := g.channel.Resolve(resolveCtx, *handle, g.State(), g.DecidedBy()); rerr != nil {
			slog.Warn("failed to resolve approval request", "handle", handle.ID, "error", rerr)
		}
	}

	return err
}

func (g *ApprovalGate) waitLoop(ctx context.Context, handle *model.ApprovalHandle) error {
	var tick <-chan time.Time
	if handle != nil {
		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
		g.poll(ctx, *handle)
	}

	for {
		select {
		case <-g.done:
			return g.outcome()
		case <-ctx.Done():
			g.Cancel()
			if g.State() == model.ApprovalCancelled {
				return fmt.Errorf("%w: %w", model.ErrApprovalCancelled, context.Cause(ctx))
			}
			return g.outcome()
		case <-tick:
			g.poll(ctx, *handle)
		}
	}
}

// poll applies every action reported by the channel. Actions from
// non-approvers are logged and ignored.
func (g *ApprovalGate) poll(ctx context.Context, handle model.ApprovalHandle) {
	actions, err := g.channel.Poll(ctx, handle)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("approval poll failed", "handle", handle.ID, "error", err)
		}
		return
	}

	for _, a := range actions {
		state, err := g.apply(a.Identity, a.Decision)
		if errors.Is(err, ErrNotApprover) {
			slog.Warn("ignoring approval action from non-approver", "identity", a.Identity, "decision", a.Decision)
			continue
		}
		if err != nil {
			slog.Warn("ignoring approval action", "identity", a.Identity, "error", err)
			continue
		}
		if state.IsTerminal() {
			return
		}
	}
}

func (g *ApprovalGate) outcome() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case model.ApprovalApproved:
		slog.Info("deployment approved", "approver", g.decidedBy)
		return nil
	case model.ApprovalRejected:
		return fmt.Errorf("%w by %s", model.ErrApprovalRejected, g.decidedBy)
	case model.ApprovalCancelled:
		return model.ErrApprovalCancelled
	default:
		return nil
	}
}
