package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core/lmssync"
	lmssvc "github.com/trezcool/lessonsync/services/lms"
)

// sync runs one batch against the provider and prints its outcome. token overrides the configured one.
func (cli *commandLine) sync(provider, token string) error {
	lmsConf, err := lmssvc.ConfigFor(provider, cli.conf)
	if err != nil {
		return err
	}
	if token != "" {
		lmsConf.Token = token
	}

	ctx := context.Background()
	if err = cli.syncSvc.Configure(ctx, lmsConf); err != nil {
		return errors.Wrap(err, "configuring provider")
	}
	defer func() { _ = cli.syncSvc.Shutdown(ctx) }()

	run, err := cli.syncSvc.ManualSync(ctx)
	if run.ID != "" {
		fmt.Fprintln(cli.out, formatRun(run))
	}
	return err
}

func formatRun(run lmssync.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s in %s", run.Provider, run.Outcome.Kind, run.FinishedAt.Sub(run.StartedAt))

	kinds := make([]string, 0, len(run.Counts))
	for kind := range run.Counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(&b, "\n  %s: %d", kind, run.Counts[kind])
	}
	if run.Outcome.Reason != "" {
		fmt.Fprintf(&b, "\n  failed %s: %s", strings.Join(run.Outcome.Failed, ", "), run.Outcome.Reason)
	}
	return b.String()
}
