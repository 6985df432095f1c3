package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// notify evaluates every user once. Lesson reminders need lessons: the configured provider is synced first.
func (cli *commandLine) notify() error {
	ctx := context.Background()
	if cli.conf.Sync.Provider != "" {
		if err := cli.sync(cli.conf.Sync.Provider, ""); err != nil {
			return errors.Wrap(err, "loading lessons")
		}
	}

	report, err := cli.scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d users, %d notifications sent, %d failures\n", report.Users, report.TotalSent(), report.Failures)
	return nil
}
