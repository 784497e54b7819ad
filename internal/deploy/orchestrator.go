package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"incubant/go-deployer/internal/credential"
	"incubant/go-deployer/internal/nonce"
	"incubant/go-deployer/internal/platform/ratelimiter"
	"incubant/go-deployer/internal/stacks"

	"github.com/google/uuid"
)

type State string

const (
	StateNotStarted State = "not_started"
	StateResolving  State = "resolving"
	StateTracking   State = "tracking"
	StateSubmitting State = "submitting"
	StateHalted     State = "halted"
	StateCompleted  State = "completed"
)

var (
	ErrResumeMismatch = errors.New("resume record does not match this run")
	ErrRecordPersist  = errors.New("deployment record could not be persisted")
)

type CredentialResolver interface {
	Resolve(secret string) (credential.Credential, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, raw []byte) (string, error)
}

// HaltError reports why a run stopped and how far it got. Artifact is set when
// a submission failed; Before names the next artifact when the run stopped
// between submissions.
type HaltError struct {
	Artifact  string
	Before    string
	Err       error
	Succeeded int
	Total     int
}

func (e *HaltError) Error() string {
	switch {
	case e.Artifact != "":
		return fmt.Sprintf("deployment halted at %s: %v (deployed %d of %d contracts)", e.Artifact, e.Err, e.Succeeded, e.Total)
	case e.Before != "":
		return fmt.Sprintf("deployment halted before %s: %v (deployed %d of %d contracts)", e.Before, e.Err, e.Succeeded, e.Total)
	default:
		return fmt.Sprintf("deployment halted before submitting: %v (deployed %d of %d contracts)", e.Err, e.Succeeded, e.Total)
	}
}

func (e *HaltError) Unwrap() error {
	return e.Err
}

type Options struct {
	Network   stacks.Network
	Contracts []string
	// Fees defaults to stacks.DefaultFeePolicy for the network.
	Fees  stacks.FeePolicy
	Pacer *ratelimiter.Pacer
	// Resume carries over successful outcomes of an earlier run.
	Resume *Record
	// DryRun builds and signs every transaction but broadcasts and persists nothing.
	DryRun bool
}

type Deps struct {
	Source      ArtifactSource
	Resolver    CredentialResolver
	Accounts    nonce.AccountReader
	Broadcaster Broadcaster
	Sinks       []RecordSink
	Metrics     *Metrics
	Logger      *slog.Logger
	Now         func() time.Time
	NewRunID    func() string
}

// Orchestrator drives artifacts one at a time through build and broadcast.
// It owns the nonce counter and the record for the duration of a run and is
// not safe for concurrent use.
type Orchestrator struct {
	opts  Options
	deps  Deps
	state State
}

func New(opts Options, deps Deps) *Orchestrator {
	if opts.Fees == nil {
		opts.Fees = stacks.DefaultFeePolicy(opts.Network)
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	return &Orchestrator{opts: opts, deps: deps, state: StateNotStarted}
}

func (o *Orchestrator) State() State {
	return o.state
}

// Run deploys the configured contracts. The returned record is the one that
// was persisted; it is empty when the run halted before the first submission.
func (o *Orchestrator) Run(ctx context.Context, secret string) (Record, error) {
	o.state = StateNotStarted
	total := len(o.opts.Contracts)
	log := o.deps.Logger.With("network", o.opts.Network.Name)

	artifacts, err := LoadArtifacts(o.deps.Source, o.opts.Contracts)
	if err != nil {
		return Record{}, o.haltEarly(err, 0, total)
	}

	o.state = StateResolving
	cred, err := o.deps.Resolver.Resolve(secret)
	if err != nil {
		return Record{}, o.haltEarly(err, 0, total)
	}
	log = log.With("deployer_address", cred.Address())

	carried, err := o.carryOver(cred.Address())
	if err != nil {
		return Record{}, o.haltEarly(err, 0, total)
	}

	log.Info("deploying contracts",
		"node_url", o.opts.Network.CoreAPIURL,
		"contracts", total,
		"resumed", len(carried),
		"dry_run", o.opts.DryRun,
	)

	o.state = StateTracking
	tracker, err := nonce.Init(ctx, o.deps.Accounts, cred.Address())
	if err != nil {
		return Record{}, o.haltEarly(err, len(carried), total)
	}
	log.Info("starting nonce", "nonce", tracker.Base())
	o.deps.Metrics.setNextNonce(tracker.Next())

	rec := Record{
		RunID:           o.deps.NewRunID(),
		Network:         o.opts.Network.Name,
		NodeURL:         o.opts.Network.CoreAPIURL,
		DeployerAddress: cred.Address(),
		DeployedAt:      o.deps.Now(),
		StartingNonce:   tracker.Base(),
		Planned:         append([]string(nil), o.opts.Contracts...),
		Contracts:       Outcomes{},
	}

	o.state = StateSubmitting
	submitted := 0
	for _, art := range artifacts {
		if prior, ok := carried[art.Name]; ok {
			rec.Contracts = append(rec.Contracts, prior)
			log.Info("skipping deployed contract", "contract", art.Name, "tx_id", prior.TxID)
			continue
		}
		if submitted > 0 {
			log.Debug("waiting before next deployment", "interval", o.opts.Pacer.Interval())
		}
		// Returns at once until the first acceptance marks the pacer.
		if err := o.opts.Pacer.Wait(ctx); err != nil {
			return o.halt(ctx, rec, &HaltError{Before: art.Name, Err: err, Total: total})
		}
		submitted++

		outcome, err := o.submit(ctx, log, art, cred, tracker)
		rec.Contracts = append(rec.Contracts, outcome)
		if err != nil {
			return o.halt(ctx, rec, &HaltError{Artifact: art.Name, Err: err, Total: total})
		}
		tracker.Advance()
		o.deps.Metrics.setNextNonce(tracker.Next())
		o.opts.Pacer.Mark()
	}

	o.state = StateCompleted
	rec.Status = StatusCompleted
	o.deps.Metrics.setHalted(false)
	log.Info("all contracts deployed", "deployed", rec.Succeeded(), "nonces_used", tracker.Used(), "next_nonce", tracker.Next())
	if err := o.persist(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (o *Orchestrator) submit(ctx context.Context, log *slog.Logger, art Artifact, cred credential.Credential, tracker *nonce.Tracker) (Outcome, error) {
	seq := tracker.Next()
	fee := o.opts.Fees.Fee(art.Name)
	outcome := Outcome{Artifact: art.Name, Nonce: seq}

	tx, err := stacks.BuildContractDeploy(stacks.ContractDeploy{Name: art.Name, CodeBody: art.Payload}, cred.SigningKey(), seq, fee, o.opts.Network)
	if err != nil {
		o.deps.Metrics.observeSubmission(resultBuildFailed, 0)
		outcome.Error = err.Error()
		return outcome, err
	}

	contractID := stacks.ContractID(cred.Address(), art.Name)
	if o.opts.DryRun {
		log.Info("built transaction (dry run)", "contract", art.Name, "nonce", seq, "fee", fee, "tx_id", tx.TxID, "bytes", len(tx.Raw))
		outcome.TxID = tx.TxID
		outcome.Address = contractID
		return outcome, nil
	}

	log.Info("broadcasting contract", "contract", art.Name, "nonce", seq, "fee", fee)
	started := o.deps.Now()
	// A started broadcast runs to completion even if the caller gives up.
	txID, err := o.deps.Broadcaster.Broadcast(context.WithoutCancel(ctx), tx.Raw)
	elapsed := o.deps.Now().Sub(started)
	if err != nil {
		result := resultRejected
		if errors.Is(err, stacks.ErrNetworkUnavailable) {
			result = resultUnavailable
		}
		o.deps.Metrics.observeSubmission(result, elapsed)
		outcome.Error = err.Error()
		log.Error("contract deployment failed", "contract", art.Name, "nonce", seq, "err", err)
		return outcome, err
	}
	o.deps.Metrics.observeSubmission(resultAccepted, elapsed)

	outcome.TxID = txID
	outcome.Address = contractID
	log.Info("contract deployed",
		"contract", art.Name,
		"contract_address", contractID,
		"tx_id", txID,
		"explorer", o.opts.Network.ExplorerTxURL(txID),
	)
	return outcome, nil
}

func (o *Orchestrator) carryOver(deployer string) (map[string]Outcome, error) {
	carried := map[string]Outcome{}
	prev := o.opts.Resume
	if prev == nil {
		return carried, nil
	}
	if prev.Network != o.opts.Network.Name {
		return nil, fmt.Errorf("%w: record network %s, run network %s", ErrResumeMismatch, prev.Network, o.opts.Network.Name)
	}
	if prev.DeployerAddress != deployer {
		return nil, fmt.Errorf("%w: record deployer %s, run deployer %s", ErrResumeMismatch, prev.DeployerAddress, deployer)
	}
	for _, name := range o.opts.Contracts {
		if out, ok := prev.Outcome(name); ok && out.Succeeded() {
			carried[name] = out
		}
	}
	return carried, nil
}

func (o *Orchestrator) haltEarly(err error, succeeded, total int) error {
	o.state = StateHalted
	o.deps.Metrics.setHalted(true)
	return &HaltError{Err: err, Succeeded: succeeded, Total: total}
}

func (o *Orchestrator) halt(ctx context.Context, rec Record, haltErr *HaltError) (Record, error) {
	o.state = StateHalted
	rec.Status = StatusHalted
	rec.HaltReason = haltErr.Err.Error()
	haltErr.Succeeded = rec.Succeeded()
	o.deps.Metrics.setHalted(true)
	o.deps.Logger.Error("deployment halted",
		"contract", haltErr.Artifact,
		"next_contract", haltErr.Before,
		"deployed", haltErr.Succeeded,
		"total", haltErr.Total,
		"err", haltErr.Err,
	)
	if err := o.persist(ctx, rec); err != nil {
		return rec, errors.Join(haltErr, err)
	}
	return rec, haltErr
}

func (o *Orchestrator) persist(ctx context.Context, rec Record) error {
	if o.opts.DryRun {
		return nil
	}
	var errs []error
	for _, sink := range o.deps.Sinks {
		if err := sink.Save(context.WithoutCancel(ctx), rec); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrRecordPersist, err))
		}
	}
	return errors.Join(errs...)
}
