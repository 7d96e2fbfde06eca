package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/puppycloud/puppycloud/internal/auth"
	"github.com/puppycloud/puppycloud/internal/storage"
)

const expireUsage = "usage: puppycloud expire-user [--db <file>] <username> <unix-ts|never>"

// runExpireUser sets or clears the password expiry of an existing user.
func runExpireUser(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("expire-user", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dbPath := fs.String("db", "puppycloud.db", "SQLite database file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, expireUsage)
	}
	if fs.NArg() != 2 {
		return errors.New(expireUsage)
	}
	username, rawTS := fs.Arg(0), fs.Arg(1)

	var expires *int64
	if rawTS != "never" {
		ts, err := strconv.ParseInt(rawTS, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", rawTS)
		}
		expires = &ts
	}

	db, err := storage.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	svc := auth.NewService(db, auth.NewSessions(), nil)
	if err := svc.SetExpiry(username, expires); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no such user %q", username)
		}
		return err
	}
	if expires == nil {
		fmt.Fprintf(out, "%s: expiry cleared\n", username)
	} else {
		fmt.Fprintf(out, "%s: expires at %d\n", username, *expires)
	}
	return nil
}
