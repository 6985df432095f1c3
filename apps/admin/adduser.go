package main

import (
	"context"
	"fmt"

	"github.com/trezcool/lessonsync/core/notification"
)

// addUser registers a notification recipient.
func (cli *commandLine) addUser(nu notification.NewUser) error {
	usr, err := cli.notifSvc.CreateUser(context.Background(), nu)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %s (%s) created\n", usr.ID, usr.Name)
	return nil
}
