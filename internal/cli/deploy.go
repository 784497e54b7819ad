package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"incubant/go-deployer/internal/bootstrap/deployconfig"
	"incubant/go-deployer/internal/credential"
	"incubant/go-deployer/internal/deploy"
	"incubant/go-deployer/internal/history"
	"incubant/go-deployer/internal/platform/ratelimiter"
	"incubant/go-deployer/internal/stacks"

	"github.com/spf13/cobra"
)

const userAgent = "incubant-deploy/1"

type deployFlags struct {
	secretFlags
	Network         string
	NodeURL         string
	ContractsDir    string
	Contracts       []string
	RecordPath      string
	HistoryDB       string
	MetricsTextfile string
	Fee             uint64
	Interval        time.Duration
	Resume          bool
	DryRun          bool
}

func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &deployFlags{}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the configured contracts in order",
		Long: `Deploy the configured contracts in order from one deployer account.

The deployer secret is a hex private key or a BIP-39 recovery phrase, read from
DEPLOYER_SECRET_KEY, --secret-file or a sealed --keystore. Each contract is
broadcast with the next nonce; the run stops at the first rejection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, rootOpts, flags)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&flags.Network, "network", "n", "", "mainnet, testnet or devnet")
	cmd.Flags().StringVar(&flags.NodeURL, "node-url", "", "core API URL of the node (required for devnet)")
	cmd.Flags().StringVar(&flags.ContractsDir, "contracts-dir", "", "directory holding <name>.clar files")
	cmd.Flags().StringSliceVar(&flags.Contracts, "contracts", nil, "ordered contract names")
	cmd.Flags().StringVar(&flags.RecordPath, "record", "", "deployment record path")
	cmd.Flags().StringVar(&flags.HistoryDB, "history-db", "", "also append the record to this SQLite database")
	cmd.Flags().StringVar(&flags.MetricsTextfile, "metrics-textfile", "", "write run metrics in node_exporter textfile format")
	cmd.Flags().Uint64Var(&flags.Fee, "fee", 0, "fee per deploy in micro-STX (0 uses the network default)")
	cmd.Flags().DurationVar(&flags.Interval, "interval", 0, "minimum delay between submissions")
	cmd.Flags().BoolVar(&flags.Resume, "resume", false, "skip contracts the existing record lists as deployed")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "build and sign without broadcasting or writing a record")
	return cmd
}

// applyFlags overrides cfg with flags the operator set explicitly.
func (f *deployFlags) applyFlags(cmd *cobra.Command, cfg *deployconfig.Config) {
	changed := cmd.Flags().Changed
	if changed("network") {
		cfg.Network = f.Network
	}
	if changed("node-url") {
		cfg.NodeURL = f.NodeURL
	}
	if changed("contracts-dir") {
		cfg.ContractsDir = f.ContractsDir
	}
	if changed("contracts") {
		cfg.Contracts = f.Contracts
	}
	if changed("record") {
		cfg.RecordPath = f.RecordPath
	}
	if changed("history-db") {
		cfg.HistoryDB = f.HistoryDB
	}
	if changed("metrics-textfile") {
		cfg.MetricsTextfile = f.MetricsTextfile
	}
	if changed("fee") {
		cfg.Fee = f.Fee
	}
	if changed("interval") {
		cfg.SubmissionInterval = f.Interval
	}
}

func runDeploy(cmd *cobra.Command, rootOpts *RootOptions, flags *deployFlags) error {
	ctx := cmd.Context()
	log := rootOpts.logger(cmd.ErrOrStderr())

	cfg, err := rootOpts.loadConfig(log)
	if err != nil {
		return err
	}
	flags.applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return classify("invalid configuration", err)
	}
	network, err := cfg.ResolveNetwork()
	if err != nil {
		return classify("resolve network", err)
	}

	secret, err := flags.read(cmd)
	if err != nil {
		return err
	}
	if secret.meta != nil && secret.meta.Network != "" && secret.meta.Network != network.Name {
		return NewExitError(ExitInvalidInput, fmt.Sprintf("keystore was sealed for %s, run targets %s", secret.meta.Network, network.Name))
	}

	fileStore := deploy.NewFileStore(cfg.RecordPath)
	sinks := []deploy.RecordSink{fileStore}
	if cfg.HistoryDB != "" && !flags.DryRun {
		store, err := history.Open(ctx, cfg.HistoryDB)
		if err != nil {
			return WrapExitError(ExitStorageFailed, "open history database", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("close history database", "err", err)
			}
		}()
		sinks = append(sinks, store)
	}

	var resume *deploy.Record
	if flags.Resume {
		prev, exists, err := fileStore.Load()
		if err != nil {
			return WrapExitError(ExitStorageFailed, "read deployment record", err)
		}
		if !exists {
			return NewExitError(ExitInvalidInput, "nothing to resume: "+cfg.RecordPath+" does not exist")
		}
		resume = &prev
		log.Info("resuming from record", "path", cfg.RecordPath, "pending", len(prev.Pending(cfg.Contracts)))
	}

	var fees stacks.FeePolicy
	if cfg.Fee > 0 {
		fees = stacks.FixedFee(cfg.Fee)
	}

	client := stacks.NewNodeClient(network.CoreAPIURL,
		stacks.WithTimeout(cfg.RequestTimeout),
		stacks.WithUserAgent(userAgent),
	)
	metrics := deploy.NewMetrics(network.Name)
	orch := deploy.New(deploy.Options{
		Network:   network,
		Contracts: cfg.Contracts,
		Fees:      fees,
		Pacer:     ratelimiter.NewPacer(cfg.SubmissionInterval),
		Resume:    resume,
		DryRun:    flags.DryRun,
	}, deploy.Deps{
		Source:      deploy.NewDirSource(cfg.ContractsDir),
		Resolver:    credential.NewResolver(network),
		Accounts:    client,
		Broadcaster: client,
		Sinks:       sinks,
		Metrics:     metrics,
		Logger:      log,
	})

	rec, runErr := orch.Run(ctx, secret.value)

	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		log.Warn("write metrics textfile", "path", cfg.MetricsTextfile, "err", err)
	}

	if rec.DeployerAddress != "" {
		out := output{format: rootOpts.Format, w: cmd.OutOrStdout()}
		if err := out.emitStatus(deployStatus(rec, runErr), rec, func(w io.Writer) error {
			persisted := !flags.DryRun && !errors.Is(runErr, deploy.ErrRecordPersist)
			return writeDeployResult(w, rec, network, cfg.RecordPath, persisted, flags.DryRun)
		}); err != nil {
			log.Warn("write summary", "err", err)
		}
	}
	if runErr != nil {
		return classify("deployment failed", runErr)
	}
	return nil
}

// deployStatus is the JSON envelope status of a deploy run.
func deployStatus(rec deploy.Record, runErr error) string {
	switch {
	case runErr == nil:
		return statusOK
	case rec.Status == deploy.StatusHalted:
		return statusHalted
	default:
		return statusError
	}
}

func writeDeployResult(w io.Writer, rec deploy.Record, network stacks.Network, recordPath string, persisted, dryRun bool) error {
	if err := deploy.WriteSummary(w, rec, network); err != nil {
		return err
	}
	var err error
	switch {
	case dryRun:
		_, err = fmt.Fprintln(w, "\nDry run: nothing was broadcast and no record was written.")
	case persisted:
		_, err = fmt.Fprintf(w, "\nDeployment record written to %s\n", recordPath)
	}
	return err
}
