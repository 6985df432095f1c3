package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lmssync"
	"github.com/trezcool/lessonsync/core/notification"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf      *core.Config
	db        *sql.DB // nil with an in-memory database
	notifSvc  *notification.Service
	syncSvc   *lmssync.Service
	scheduler *notification.Scheduler
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...)")
	fmt.Println("  sync -provider moodle|canvas [-prompt] - synchronize once with the LMS and record the run")
	fmt.Println("  notify - evaluate the scheduled notifications of every user once")
	fmt.Println("  adduser -id CHAT_ID -name NAME [-email EMAIL] [-level LEVEL] - register a notification recipient")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	syncCmd := flag.NewFlagSet("sync", flag.ContinueOnError)
	syncProvider := syncCmd.String("provider", cli.conf.Sync.Provider, "The LMS provider to synchronize with.")
	syncPrompt := syncCmd.Bool("prompt", false, "Prompt for the API token instead of reading it from the config.")

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserID := addUserCmd.String("id", "", "The user's chat id on the messaging channel.")
	addUserName := addUserCmd.String("name", "", "The user's name.")
	addUserEmail := addUserCmd.String("email", "", "The user's e-mail address (optional).")
	addUserLevel := addUserCmd.String("level", "", "The user's English level (optional).")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "sync":
		if err := syncCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *syncProvider == "" {
			syncCmd.Usage()
			return errHelp
		}
		var token string
		if *syncPrompt {
			fmt.Print("Enter API token:")
			tok, err := readPasswordFunc(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return err
			}
			if len(tok) == 0 {
				syncCmd.Usage()
				return errHelp
			}
			token = string(tok)
		}
		return cli.sync(*syncProvider, token)

	case "notify":
		return cli.notify()

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserID == "" || *addUserName == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(notification.NewUser{
			ID:    *addUserID,
			Name:  *addUserName,
			Email: *addUserEmail,
			Level: *addUserLevel,
		})

	default:
		cli.printUsage()
		return errHelp
	}
}
