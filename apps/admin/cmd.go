package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	echoapi "github.com/trezcool/suivi/apps/api/echo"
	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

const cliUserID = "admin-cli"

var (
	nowFunc = time.Now // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf *core.Config
	db   *sql.DB
	svc  *progress.Service
	out  io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose migration command (up, up-to, down, down-to, redo, reset, status, version, create, fix)")
	fmt.Println("  recascade -client CLIENT -user USER -course COURSE - recompute a learner's course progress from the content records")
	fmt.Println("  token -client CLIENT -user USER [-admin] [-ttl DURATION] - issue an API token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	recascadeCmd := flag.NewFlagSet("recascade", flag.ExitOnError)
	recascadeClient := recascadeCmd.String("client", "", "The tenant id.")
	recascadeUser := recascadeCmd.String("user", "", "The learner id.")
	recascadeCourse := recascadeCmd.String("course", "", "The course id.")

	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenClient := tokenCmd.String("client", "", "The tenant id.")
	tokenUser := tokenCmd.String("user", "", "The subject of the token.")
	tokenAdmin := tokenCmd.Bool("admin", false, "Issue an admin token.")
	tokenTTL := tokenCmd.Duration("ttl", 0, "Token lifetime (defaults to the server setting).")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "recascade":
		if err := recascadeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *recascadeClient == "" || *recascadeUser == "" || *recascadeCourse == "" {
			recascadeCmd.Usage()
			return errHelp
		}
		return cli.recascade(*recascadeClient, *recascadeUser, *recascadeCourse)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenClient == "" || *tokenUser == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenClient, *tokenUser, *tokenAdmin, *tokenTTL)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) recascade(clientID, userID, courseID string) error {
	sess := core.Session{
		ClientID:  clientID,
		UserID:    cliUserID,
		IsAdmin:   true,
		Now:       nowFunc().UTC(),
		RequestID: "cli",
	}
	agg, err := cli.svc.Recascade(context.Background(), sess, progress.CourseTarget{UserID: userID, CourseID: courseID})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(agg)
}

func (cli *commandLine) token(clientID, userID string, isAdmin bool, ttl time.Duration) error {
	conf := *cli.conf
	if ttl > 0 {
		conf.Server.JWTExpirationDelta = ttl
	}
	token, err := echoapi.GenerateToken(&conf, echoapi.NewClaims(&conf, clientID, userID, isAdmin))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cli.out, token)
	return err
}
