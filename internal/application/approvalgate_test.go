package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/staticdeploy/internal/application"
	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

func TestNewApprovalGate_NotRequired(t *testing.T) {
	gate, err := application.NewApprovalGate(false, nil, application.ApprovalGateOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.ApprovalNotRequired, gate.State())
	assert.NoError(t, gate.Wait(context.Background(), model.ApprovalRequest{}))
}

func TestNewApprovalGate_RequiredWithoutApprovers(t *testing.T) {
	_, err := application.NewApprovalGate(true, []string{" ", ""}, application.ApprovalGateOptions{})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestApprovalGate_NonApproverLeavesPending(t *testing.T) {
	gate, err := application.NewApprovalGate(true, []string{"a", "b"}, application.ApprovalGateOptions{})
	require.NoError(t, err)

	state, err := gate.Approve("c")
	assert.ErrorIs(t, err, application.ErrNotApprover)
	assert.Equal(t, model.ApprovalPending, state)
	assert.Equal(t, model.ApprovalPending, gate.State())

	state, err = gate.Approve("a")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, state)
	assert.Equal(t, "a", gate.DecidedBy())
}

func TestApprovalGate_CaseInsensitiveIdentity(t *testing.T) {
	gate, err := application.NewApprovalGate(true, []string{"Alice"}, application.ApprovalGateOptions{})
	require.NoError(t, err)

	state, err := gate.Approve("alice")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, state)
	assert.Equal(t, "Alice", gate.DecidedBy())
}

func TestApprovalGate_TransitionsAreMonotonic(t *testing.T) {
	gate, err := application.NewApprovalGate(true, []string{"a", "b"}, application.ApprovalGateOptions{})
	require.NoError(t, err)

	_, err = gate.Approve("a")
	require.NoError(t, err)

	state, err := gate.Approve("a")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, state)

	state, err = gate.Reject("b")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, state)
	assert.Equal(t, "a", gate.DecidedBy())

	assert.Equal(t, model.ApprovalApproved, gate.Cancel())
}

func TestApprovalGate_ConcurrentApprovalsTransitionOnce(t *testing.T) {
	gate, err := application.NewApprovalGate(true, []string{"a", "b", "c"}, application.ApprovalGateOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, who := range []string{"a", "b", "c", "a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gate.Approve(who)
		}()
	}
	wg.Wait()

	assert.Equal(t, model.ApprovalApproved, gate.State())
	assert.Contains(t, []string{"a", "b", "c"}, gate.DecidedBy())
}

func TestApprovalGate_WaitWakesOnPushApproval(t *testing.T) {
	gate, err := application.NewApprovalGate(true, []string{"alice"}, application.ApprovalGateOptions{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- gate.Wait(context.Background(), model.ApprovalRequest{Environment: "production"}) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-errCh:
		t.Fatal("Wait returned before a decision")
	default:
	}

	_, err = gate.Approve("alice")
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after approval")
	}
}

func TestApprovalGate_WaitRejected(t *testing.T) {
	gate, err := application.NewApprovalGate(true, []string{"bob"}, application.ApprovalGateOptions{})
	require.NoError(t, err)

	_, err = gate.Reject("bob")
	require.NoError(t, err)

	err = gate.Wait(context.Background(), model.ApprovalRequest{})
	assert.ErrorIs(t, err, model.ErrApprovalRejected)
	assert.Contains(t, err.Error(), "bob")
}

func TestApprovalGate_WaitCancelled(t *testing.T) {
	gate, err := application.NewApprovalGate(true, []string{"bob"}, application.ApprovalGateOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = gate.Wait(ctx, model.ApprovalRequest{})
	assert.ErrorIs(t, err, model.ErrApprovalCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.ApprovalCancelled, gate.State())
}

func TestApprovalGate_WaitTimeout(t *testing.T) {
	gate, err := application.NewApprovalGate(true, []string{"bob"}, application.ApprovalGateOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	err = gate.Wait(context.Background(), model.ApprovalRequest{})
	assert.ErrorIs(t, err, model.ErrApprovalCancelled)
	assert.ErrorIs(t, err, application.ErrApprovalTimeout)
	assert.Equal(t, model.ApprovalCancelled, gate.State())
}

func TestApprovalGate_WaitPollsChannel(t *testing.T) {
	channel := &mockApprovalChannel{}
	channel.push("mallory", model.DecisionApprove)

	gate, err := application.NewApprovalGate(true, []string{"alice"}, application.ApprovalGateOptions{
		Channel:      channel,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		channel.push("ALICE", model.DecisionApprove)
	}()

	err = gate.Wait(context.Background(), model.ApprovalRequest{Environment: "production"})
	require.NoError(t, err)

	assert.Equal(t, model.ApprovalApproved, gate.State())
	assert.Equal(t, "alice", gate.DecidedBy())
	require.Len(t, channel.requests, 1)
	assert.Equal(t, []string{"alice"}, channel.requests[0].Approvers)
	assert.Equal(t, []model.ApprovalState{model.ApprovalApproved}, channel.resolvedStates())
}
