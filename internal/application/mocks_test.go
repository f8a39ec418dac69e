package application_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// --- RefSource ---

type mockRefSource struct {
	branchHead  func(ctx context.Context, branch string) (string, error)
	pullRequest func(ctx context.Context, number int) (model.PullRequestRef, error)
	merge       func(ctx context.Context, pr model.PullRequestRef) (string, error)
	tagCommit   func(ctx context.Context, tag string) (string, error)

	mergeCalls int
}

func (m *mockRefSource) BranchHead(ctx context.Context, branch string) (string, error) {
	return m.branchHead(ctx, branch)
}

func (m *mockRefSource) PullRequest(ctx context.Context, number int) (model.PullRequestRef, error) {
	return m.pullRequest(ctx, number)
}

func (m *mockRefSource) MergePullRequest(ctx context.Context, pr model.PullRequestRef) (string, error) {
	m.mergeCalls++
	return m.merge(ctx, pr)
}

func (m *mockRefSource) TagCommit(ctx context.Context, tag string) (string, error) {
	return m.tagCommit(ctx, tag)
}

// --- BuildTool ---

type installCall struct {
	Dir   string
	Clean bool
}

type buildCall struct {
	Dir         string
	Environment string
	Env         map[string]string
}

type mockBuildTool struct {
	install func(ctx context.Context, dir string, clean bool) error
	build   func(ctx context.Context, dir, environment string, env map[string]string) error

	installs []installCall
	builds   []buildCall
}

func (m *mockBuildTool) Install(ctx context.Context, dir string, clean bool) error {
	m.installs = append(m.installs, installCall{Dir: dir, Clean: clean})
	if m.install == nil {
		return nil
	}
	return m.install(ctx, dir, clean)
}

func (m *mockBuildTool) Build(ctx context.Context, dir, environment string, env map[string]string) error {
	m.builds = append(m.builds, buildCall{Dir: dir, Environment: environment, Env: env})
	if m.build == nil {
		return nil
	}
	return m.build(ctx, dir, environment, env)
}

// --- ObjectStore ---

// memoryStore is an in-memory ObjectStore keyed by bucket/key. It records
// the order of operations so tests can assert uploads precede deletions.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string]string // key -> md5
	ops     []string          // "put:<key>" or "delete:<key>"

	listErr error
	failPut func(key string, attempt int) error // nil means no failure
	attempt map[string]int
}

func newMemoryStore(objects map[string]string) *memoryStore {
	if objects == nil {
		objects = map[string]string{}
	}
	return &memoryStore{objects: objects, attempt: map[string]int{}}
}

func (m *memoryStore) List(_ context.Context, _ string, prefix string) ([]model.RemoteObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []model.RemoteObject
	for k, h := range m.objects {
		if prefix != "" && !strings.HasPrefix(k, prefix+"/") {
			continue
		}
		out = append(out, model.RemoteObject{Key: k, Hash: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) Put(_ context.Context, _ string, in driven.PutObjectInput) error {
	m.mu.Lock()
	m.attempt[in.Key]++
	attempt := m.attempt[in.Key]
	fail := m.failPut
	m.mu.Unlock()

	if fail != nil {
		if err := fail(in.Key, attempt); err != nil {
			return err
		}
	}
	if _, err := io.ReadAll(in.Body); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[in.Key] = in.MD5
	m.ops = append(m.ops, "put:"+in.Key)
	return nil
}

func (m *memoryStore) Delete(_ context.Context, _ string, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.ops = append(m.ops, "delete:"+key)
	return nil
}

func (m *memoryStore) operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// --- CDN / EdgeCache ---

type invalidateCall struct {
	DistributionID  string
	Paths           []string
	CallerReference string
}

type mockCDN struct {
	find       func(ctx context.Context, bucket string) (string, error)
	invalidate func(ctx context.Context, id string) (string, error)

	mu          sync.Mutex
	findCalls   int
	invalidates []invalidateCall
}

func (m *mockCDN) FindDistribution(ctx context.Context, bucket string) (string, error) {
	m.mu.Lock()
	m.findCalls++
	m.mu.Unlock()
	return m.find(ctx, bucket)
}

func (m *mockCDN) Invalidate(ctx context.Context, id string, paths []string, ref string) (string, error) {
	m.mu.Lock()
	m.invalidates = append(m.invalidates, invalidateCall{DistributionID: id, Paths: paths, CallerReference: ref})
	m.mu.Unlock()
	if m.invalidate == nil {
		return "inv-1", nil
	}
	return m.invalidate(ctx, id)
}

type mockEdgeCache struct {
	purge func(ctx context.Context, zoneID, token string) error

	mu    sync.Mutex
	calls []string
}

func (m *mockEdgeCache) Purge(ctx context.Context, zoneID, token string) error {
	m.mu.Lock()
	m.calls = append(m.calls, zoneID)
	m.mu.Unlock()
	if m.purge == nil {
		return nil
	}
	return m.purge(ctx, zoneID, token)
}

// --- DeploymentStore ---

// memoryLedger is an in-memory DeploymentStore that applies the same
// forward-only guard as the sqlite ledger.
type memoryLedger struct {
	mu          sync.Mutex
	seq         int
	deployments map[string]model.Deployment
	events      map[string][]model.StatusEvent
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		deployments: map[string]model.Deployment{},
		events:      map[string][]model.StatusEvent{},
	}
}

func (m *memoryLedger) Create(_ context.Context, d model.Deployment) (model.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	d.ID = fmt.Sprintf("dep-%d", m.seq)
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	m.deployments[d.ID] = d
	m.events[d.ID] = []model.StatusEvent{{DeploymentID: d.ID, Status: d.Status, Description: d.Description, At: d.CreatedAt}}
	return d, nil
}

func (m *memoryLedger) SetRef(_ context.Context, id string, ref model.ResolvedRef, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deployments[id]
	d.Ref = ref
	d.RemoteID = remoteID
	m.deployments[id] = d
	return nil
}

func (m *memoryLedger) UpdateStatus(_ context.Context, id string, status model.DeploymentStatus, description string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[id]
	if !ok {
		return false, fmt.Errorf("deployment %s not found", id)
	}
	if !d.Status.CanTransitionTo(status) {
		return false, nil
	}
	d.Status = status
	d.Description = description
	d.UpdatedAt = time.Now().UTC()
	m.deployments[id] = d
	m.events[id] = append(m.events[id], model.StatusEvent{DeploymentID: id, Status: status, Description: description, At: d.UpdatedAt})
	return true, nil
}

func (m *memoryLedger) Get(_ context.Context, id string) (*model.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *memoryLedger) List(_ context.Context, _ string, _ int) ([]model.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Deployment
	for _, d := range m.deployments {
		out = append(out, d)
	}
	return out, nil
}

func (m *memoryLedger) Events(_ context.Context, id string) ([]model.StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.StatusEvent(nil), m.events[id]...), nil
}

// statuses returns the recorded status sequence of a deployment.
func (m *memoryLedger) statuses(id string) []model.DeploymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeploymentStatus
	for _, e := range m.events[id] {
		out = append(out, e.Status)
	}
	return out
}

// --- DeploymentService ---

type mockDeploymentService struct {
	createErr error

	mu      sync.Mutex
	created []model.ResolvedRef
	updates []driven.DeploymentStatusUpdate
}

func (m *mockDeploymentService) Create(_ context.Context, _ string, ref model.ResolvedRef, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.created = append(m.created, ref)
	return "remote-42", nil
}

func (m *mockDeploymentService) UpdateStatus(_ context.Context, _ string, update driven.DeploymentStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}

// --- Notifications ---

type mockErrorTracker struct {
	err error

	mu       sync.Mutex
	releases []model.ReleaseInfo
}

func (m *mockErrorTracker) CreateRelease(_ context.Context, _, _ string, info model.ReleaseInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases = append(m.releases, info)
	return m.err
}

type mockReleasePublisher struct {
	err error

	mu   sync.Mutex
	tags []string
}

func (m *mockReleasePublisher) CreateRelease(_ context.Context, tag, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = append(m.tags, tag)
	if m.err != nil {
		return "", m.err
	}
	return "https://github.com/acme/site/releases/tag/" + tag, nil
}

type mockChatNotifier struct {
	err error

	mu       sync.Mutex
	messages []driven.ChatMessage
}

func (m *mockChatNotifier) Post(_ context.Context, msg driven.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.err
}

// --- ApprovalChannel ---

type mockApprovalChannel struct {
	mu       sync.Mutex
	pending  []model.ApprovalAction
	requests []model.ApprovalRequest
	resolved []model.ApprovalState
}

func (m *mockApprovalChannel) Request(_ context.Context, req model.ApprovalRequest) (model.ApprovalHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return model.ApprovalHandle{ID: "7", URL: "https://github.com/acme/site/issues/7"}, nil
}

func (m *mockApprovalChannel) Poll(_ context.Context, _ model.ApprovalHandle) ([]model.ApprovalAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out, nil
}

func (m *mockApprovalChannel) Resolve(_ context.Context, _ model.ApprovalHandle, state model.ApprovalState, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved = append(m.resolved, state)
	return nil
}

func (m *mockApprovalChannel) push(identity string, decision model.ApprovalDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, model.ApprovalAction{Identity: identity, Decision: decision, At: time.Now()})
}

func (m *mockApprovalChannel) resolvedStates() []model.ApprovalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ApprovalState(nil), m.resolved...)
}
