package deploy

import (
	"fmt"
	"io"
	"strings"

	"incubant/go-deployer/internal/stacks"
)

// EnvVarName maps a contract name to the variable the frontend reads its
// address from, e.g. token-stream -> TOKEN_STREAM_CONTRACT_ADDRESS.
func EnvVarName(contract string) string {
	return strings.ToUpper(strings.ReplaceAll(contract, "-", "_")) + "_CONTRACT_ADDRESS"
}

// WriteSummary prints contract addresses, .env lines and explorer links for
// every successful outcome of the record.
func WriteSummary(w io.Writer, rec Record, network stacks.Network) error {
	p := &printer{w: w}
	p.linef("Deployer: %s (%s)", rec.DeployerAddress, rec.Network)
	p.linef("Deployed %d of %d contracts", rec.Succeeded(), rec.Total())
	if failed, ok := rec.Failure(); ok {
		p.linef("Halted at %s: %s", failed.Artifact, failed.Error)
	} else if rec.HaltReason != "" {
		if next, ok := rec.Next(); ok {
			p.linef("Halted before %s: %s", next, rec.HaltReason)
		} else {
			p.linef("Halted: %s", rec.HaltReason)
		}
	}

	var ok []Outcome
	for _, o := range rec.Contracts {
		if o.Succeeded() {
			ok = append(ok, o)
		}
	}
	if len(ok) == 0 {
		return p.err
	}

	p.linef("")
	p.linef("Contract addresses:")
	for _, o := range ok {
		p.linef("%-20s %s", strings.ToUpper(o.Artifact), o.Address)
	}
	p.linef("")
	p.linef("Update your .env file with these addresses:")
	for _, o := range ok {
		p.linef("%s=%s", EnvVarName(o.Artifact), o.Address)
	}
	p.linef("")
	p.linef("View transactions on explorer:")
	for _, o := range ok {
		p.linef("  %s: %s", o.Artifact, network.ExplorerTxURL(o.TxID))
	}
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) linef(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}
