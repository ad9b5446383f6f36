package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/crypto/bcrypt"

	"github.com/target/rolegate/config"
	domainauth "github.com/target/rolegate/internal/domain/auth"
)

func loadRegistry(path string) (*config.AuthFile, *domainauth.Registry, error) {
	file, err := config.LoadAuthFile(path)
	if err != nil {
		return nil, nil, err
	}
	reg, err := domainauth.NewRegistry(file.RoleDefinitions())
	if err != nil {
		return nil, nil, fmt.Errorf("role tree: %w", err)
	}
	return file, reg, nil
}

func runCheckRoles(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("check-roles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("file", cmdCtx.Config.Auth.File, "Auth config file to check (defaults to AUTH_CONFIG_FILE)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	file, reg, err := loadRegistry(*path)
	if err != nil {
		return err
	}
	defaults := cmdCtx.Config.Auth.DefaultRoles
	if len(defaults) == 0 {
		defaults = file.DefaultRoles
	}
	return checkRoles(cmdCtx.Stdout, file, reg, defaults)
}

// checkRoles validates file against reg and prints each role's closure.
func checkRoles(w io.Writer, file *config.AuthFile, reg *domainauth.Registry, defaults []string) error {
	var errs []error
	if err := file.ValidateUserRoles(reg); err != nil {
		errs = append(errs, err)
	}
	if err := checkKnownRoles(reg, defaults); err != nil {
		errs = append(errs, fmt.Errorf("default roles: %w", err))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ROLE\tIMPLIES\n"); err != nil {
		return err
	}
	for _, name := range reg.Names() {
		if err := writef(tw, "%s\t%s\n", name, strings.Join(reg.Effective([]string{name}), ",")); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if err := writef(w, "\n%d static users, %d group mappings, default roles: %s\n",
		len(file.Users), len(file.GroupMappings), strings.Join(defaults, ",")); err != nil {
		return err
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	return writeln(w, "ok")
}

func runHashPassword(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		return fmt.Errorf("--cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	pw, err := readPassword(cmdCtx.Stdin)
	if err != nil {
		return err
	}
	hash, err := hashPassword(pw, *cost)
	if err != nil {
		return err
	}
	return writeln(cmdCtx.Stdout, hash)
}
