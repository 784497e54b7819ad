package deploy

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"incubant/go-deployer/internal/credential"
	"incubant/go-deployer/internal/platform/ratelimiter"
	"incubant/go-deployer/internal/stacks"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "0x753b7cc01a1a2e86221266a154af739463fce51219d97e4f856cd7200c3bd2a6"
	testDeployer = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
)

type mapSource map[string]string

func (m mapSource) Load(name string) (Artifact, error) {
	body, ok := m[name]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrArtifactUnavailable, name)
	}
	return Artifact{Name: name, Payload: []byte(body)}, nil
}

func sourceFor(names ...string) mapSource {
	src := mapSource{}
	for _, n := range names {
		src[n] = "(define-read-only (name) \"" + n + "\")"
	}
	return src
}

type fakeAccounts struct {
	nonce uint64
	err   error
	calls int
}

func (f *fakeAccounts) AccountState(context.Context, string) (stacks.AccountState, error) {
	f.calls++
	if f.err != nil {
		return stacks.AccountState{}, f.err
	}
	return stacks.AccountState{Nonce: f.nonce}, nil
}

type sentTx struct {
	contract string
	nonce    uint64
	fee      uint64
}

type fakeBroadcaster struct {
	failOn map[string]error
	sent   []sentTx
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, raw []byte) (string, error) {
	nameLen := int(raw[116])
	tx := sentTx{
		contract: string(raw[117 : 117+nameLen]),
		nonce:    binary.BigEndian.Uint64(raw[27:35]),
		fee:      binary.BigEndian.Uint64(raw[35:43]),
	}
	f.sent = append(f.sent, tx)
	if err, ok := f.failOn[tx.contract]; ok {
		return "", err
	}
	return fmt.Sprintf("0x%064d", tx.nonce), nil
}

type memorySink struct {
	saved []Record
	err   error
}

func (m *memorySink) Save(_ context.Context, r Record) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, r)
	return nil
}

type harness struct {
	accounts    *fakeAccounts
	broadcaster *fakeBroadcaster
	sink        *memorySink
	metrics     *Metrics
	network     stacks.Network
}

func newHarness(t *testing.T, base uint64) *harness {
	t.Helper()
	n, err := stacks.NetworkFor(stacks.NetworkDevnet, stacks.DefaultDevnetURL)
	require.NoError(t, err)
	return &harness{
		accounts:    &fakeAccounts{nonce: base},
		broadcaster: &fakeBroadcaster{failOn: map[string]error{}},
		sink:        &memorySink{},
		metrics:     NewMetrics(n.Name),
		network:     n,
	}
}

func (h *harness) orchestrator(opts Options, names ...string) *Orchestrator {
	opts.Network = h.network
	if opts.Contracts == nil {
		opts.Contracts = names
	}
	return New(opts, Deps{
		Source:      sourceFor(names...),
		Resolver:    credential.NewResolver(h.network),
		Accounts:    h.accounts,
		Broadcaster: h.broadcaster,
		Sinks:       []RecordSink{h.sink},
		Metrics:     h.metrics,
		Now:         func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) },
		NewRunID:    func() string { return "run-1" },
	})
}

func TestRunAllAccepted(t *testing.T) {
	h := newHarness(t, 5)
	o := h.orchestrator(Options{}, "alpha", "beta", "gamma")

	rec, err := o.Run(context.Background(), testSecret)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, o.State())
	require.Equal(t, StatusCompleted, rec.Status)
	require.Equal(t, testDeployer, rec.DeployerAddress)
	require.Equal(t, uint64(5), rec.StartingNonce)

	require.Len(t, rec.Contracts, 3)
	for i, name := range []string{"alpha", "beta", "gamma"} {
		got := rec.Contracts[i]
		require.Equal(t, name, got.Artifact)
		require.True(t, got.Succeeded())
		require.Equal(t, uint64(5+i), got.Nonce)
		require.Equal(t, testDeployer+"."+name, got.Address)
		require.Equal(t, uint64(5+i), h.broadcaster.sent[i].nonce)
		require.Equal(t, uint64(10000), h.broadcaster.sent[i].fee)
	}
	require.Equal(t, 1, h.accounts.calls)
	require.Len(t, h.sink.saved, 1)
	require.Equal(t, StatusCompleted, h.sink.saved[0].Status)
	require.Equal(t, float64(3), testutil.ToFloat64(h.metrics.submissions.WithLabelValues(resultAccepted)))
	require.Equal(t, float64(8), testutil.ToFloat64(h.metrics.nextNonce))
}

func TestRunHaltsOnRejection(t *testing.T) {
	h := newHarness(t, 5)
	h.broadcaster.failOn["beta"] = &stacks.RejectionError{Status: 400, Message: "transaction rejected", Reason: "insufficient-fee"}
	o := h.orchestrator(Options{}, "alpha", "beta", "gamma")

	rec, err := o.Run(context.Background(), testSecret)
	require.ErrorIs(t, err, stacks.ErrSubmissionRejected)
	require.Equal(t, StateHalted, o.State())

	var halt *HaltError
	require.True(t, errors.As(err, &halt))
	require.Equal(t, "beta", halt.Artifact)
	require.Equal(t, 1, halt.Succeeded)
	require.Equal(t, 3, halt.Total)
	require.Contains(t, err.Error(), "deployed 1 of 3 contracts")

	require.Equal(t, StatusHalted, rec.Status)
	require.Len(t, rec.Contracts, 2)
	require.Equal(t, "alpha", rec.Contracts[0].Artifact)
	require.True(t, rec.Contracts[0].Succeeded())
	require.Equal(t, uint64(5), rec.Contracts[0].Nonce)
	require.Equal(t, "beta", rec.Contracts[1].Artifact)
	require.False(t, rec.Contracts[1].Succeeded())
	require.Contains(t, rec.Contracts[1].Error, "insufficient-fee")
	_, hasGamma := rec.Outcome("gamma")
	require.False(t, hasGamma)

	require.Len(t, h.broadcaster.sent, 2)
	require.Len(t, h.sink.saved, 1)
	require.Equal(t, StatusHalted, h.sink.saved[0].Status)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, h.sink.saved[0].Planned)
	require.Contains(t, h.sink.saved[0].HaltReason, "insufficient-fee")
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.submissions.WithLabelValues(resultRejected)))
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.halted))

	var summary bytes.Buffer
	require.NoError(t, WriteSummary(&summary, rec, h.network))
	require.Contains(t, summary.String(), "Deployed 1 of 3 contracts")
	require.Contains(t, summary.String(), "Halted at beta")
}

func TestRunFailureAtEachPosition(t *testing.T) {
	names := []string{"a1", "a2", "a3", "a4"}
	const base = 11
	for i := 1; i <= len(names); i++ {
		h := newHarness(t, base)
		h.broadcaster.failOn[names[i-1]] = &stacks.RejectionError{Status: 400, Reason: "BadNonce"}
		rec, err := h.orchestrator(Options{}, names...).Run(context.Background(), testSecret)
		require.Error(t, err)

		require.Len(t, rec.Contracts, i)
		require.Equal(t, i-1, rec.Succeeded())
		for k := 0; k < i-1; k++ {
			require.Equal(t, uint64(base+k), rec.Contracts[k].Nonce)
		}
		failed, ok := rec.Failure()
		require.True(t, ok)
		require.Equal(t, names[i-1], failed.Artifact)
		require.Equal(t, uint64(base+i-1), failed.Nonce)
		require.Len(t, h.broadcaster.sent, i)
	}
}

func TestRunInvalidSecretMakesNoNetworkCalls(t *testing.T) {
	h := newHarness(t, 0)
	o := h.orchestrator(Options{}, "alpha")

	_, err := o.Run(context.Background(), "not-a-key")
	require.ErrorIs(t, err, credential.ErrInvalidCredential)
	require.Equal(t, StateHalted, o.State())
	require.Zero(t, h.accounts.calls)
	require.Empty(t, h.broadcaster.sent)
	require.Empty(t, h.sink.saved)

	_, err = o.Run(context.Background(), "  ")
	require.ErrorIs(t, err, credential.ErrSecretRequired)
	require.Empty(t, h.sink.saved)
}

func TestRunTrackingFailureWritesNoRecord(t *testing.T) {
	h := newHarness(t, 0)
	h.accounts.err = fmt.Errorf("%w: connection refused", stacks.ErrNetworkUnavailable)
	o := h.orchestrator(Options{}, "alpha")

	_, err := o.Run(context.Background(), testSecret)
	require.ErrorIs(t, err, stacks.ErrNetworkUnavailable)
	require.Equal(t, StateHalted, o.State())
	require.Empty(t, h.broadcaster.sent)
	require.Empty(t, h.sink.saved)
}

func TestRunTransportFailureMidRunPersistsPartialRecord(t *testing.T) {
	h := newHarness(t, 2)
	h.broadcaster.failOn["gamma"] = fmt.Errorf("%w: broadcast: timeout", stacks.ErrNetworkUnavailable)
	rec, err := h.orchestrator(Options{}, "alpha", "beta", "gamma").Run(context.Background(), testSecret)
	require.ErrorIs(t, err, stacks.ErrNetworkUnavailable)
	require.Equal(t, 2, rec.Succeeded())
	require.Len(t, h.sink.saved, 1)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.submissions.WithLabelValues(resultUnavailable)))
}

func TestRunMissingArtifactHaltsBeforeResolving(t *testing.T) {
	h := newHarness(t, 0)
	o := h.orchestrator(Options{Contracts: []string{"alpha", "missing"}}, "alpha")
	_, err := o.Run(context.Background(), testSecret)
	require.ErrorIs(t, err, ErrArtifactUnavailable)
	require.Zero(t, h.accounts.calls)
	require.Empty(t, h.sink.saved)
}

func TestRunResumeSkipsDeployedContracts(t *testing.T) {
	h := newHarness(t, 9)
	prev := &Record{
		Network:         stacks.NetworkDevnet,
		DeployerAddress: testDeployer,
		Status:          StatusHalted,
		Contracts: Outcomes{
			{Artifact: "alpha", TxID: "0xaaa", Address: testDeployer + ".alpha", Nonce: 8},
			{Artifact: "beta", Nonce: 9, Error: "submission rejected: BadNonce"},
		},
	}
	rec, err := h.orchestrator(Options{Resume: prev}, "alpha", "beta", "gamma").Run(context.Background(), testSecret)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
	require.Len(t, rec.Contracts, 3)
	require.Equal(t, "0xaaa", rec.Contracts[0].TxID)

	require.Len(t, h.broadcaster.sent, 2)
	require.Equal(t, "beta", h.broadcaster.sent[0].contract)
	require.Equal(t, uint64(9), h.broadcaster.sent[0].nonce)
	require.Equal(t, uint64(10), h.broadcaster.sent[1].nonce)
}

func TestRunResumeRejectsOtherDeployer(t *testing.T) {
	h := newHarness(t, 0)
	prev := &Record{Network: stacks.NetworkDevnet, DeployerAddress: "ST000000000000000000002AMW42H"}
	_, err := h.orchestrator(Options{Resume: prev}, "alpha").Run(context.Background(), testSecret)
	require.ErrorIs(t, err, ErrResumeMismatch)
	require.Zero(t, h.accounts.calls)
}

func TestRunDryRunBroadcastsNothing(t *testing.T) {
	h := newHarness(t, 3)
	rec, err := h.orchestrator(Options{DryRun: true}, "alpha", "beta").Run(context.Background(), testSecret)
	require.NoError(t, err)
	require.Empty(t, h.broadcaster.sent)
	require.Empty(t, h.sink.saved)
	require.Len(t, rec.Contracts, 2)
	require.Equal(t, uint64(4), rec.Contracts[1].Nonce)
	require.Len(t, rec.Contracts[0].TxID, 64)
}

func TestRunUsesFeePolicy(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.orchestrator(Options{Fees: stacks.FixedFee(777)}, "alpha").Run(context.Background(), testSecret)
	require.NoError(t, err)
	require.Equal(t, uint64(777), h.broadcaster.sent[0].fee)
}

func TestRunCancelledBetweenSubmissions(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	h.broadcaster.failOn = nil
	o := h.orchestrator(Options{}, "alpha", "beta")
	o.deps.Broadcaster = broadcastThen(h.broadcaster, cancel)
	o.opts.Pacer = newTestPacer()

	rec, err := o.Run(ctx, testSecret)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, rec.Succeeded())
	require.Len(t, rec.Contracts, 1)
	require.Equal(t, StatusHalted, h.sink.saved[0].Status)

	var halt *HaltError
	require.True(t, errors.As(err, &halt))
	require.Empty(t, halt.Artifact)
	require.Equal(t, "beta", halt.Before)
	require.Contains(t, err.Error(), "halted before beta")
	require.Contains(t, err.Error(), "deployed 1 of 2 contracts")

	_, failed := rec.Failure()
	require.False(t, failed)
	require.Equal(t, context.Canceled.Error(), rec.HaltReason)

	var summary bytes.Buffer
	require.NoError(t, WriteSummary(&summary, rec, h.network))
	require.Contains(t, summary.String(), "Deployed 1 of 2 contracts")
	require.Contains(t, summary.String(), "Halted before beta: context canceled")
}

func TestRunWaitsFullIntervalAfterAcceptance(t *testing.T) {
	const (
		interval = 80 * time.Millisecond
		latency  = 60 * time.Millisecond
	)
	h := newHarness(t, 0)
	slow := &slowBroadcaster{next: h.broadcaster, delay: latency}
	o := h.orchestrator(Options{Pacer: ratelimiter.NewPacer(interval)}, "alpha", "beta", "gamma")
	o.deps.Broadcaster = slow

	_, err := o.Run(context.Background(), testSecret)
	require.NoError(t, err)
	require.Len(t, slow.spans, 3)
	for i := 1; i < len(slow.spans); i++ {
		gap := slow.spans[i].start.Sub(slow.spans[i-1].end)
		require.GreaterOrEqual(t, gap, interval-time.Millisecond, "gap before submission %d", i)
	}
}

func TestRunPersistFailureIsReported(t *testing.T) {
	h := newHarness(t, 0)
	h.sink.err = errors.New("disk full")
	_, err := h.orchestrator(Options{}, "alpha").Run(context.Background(), testSecret)
	require.ErrorIs(t, err, ErrRecordPersist)
	require.True(t, strings.Contains(err.Error(), "disk full"))
}
