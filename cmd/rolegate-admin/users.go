package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/target/rolegate/internal/data"
	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/domain/model"
)

// userStore is the subset of data.UserRepo the user commands need.
type userStore interface {
	Create(ctx context.Context, req model.CreateUserRequest) (*model.User, error)
	Update(ctx context.Context, username string, req model.UpdateUserRequest) (*model.User, error)
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, username string) error
}

type userOptions struct {
	Username string
	Roles    []string
	Enable   bool
	Limit    int
	Offset   int
	JSON     bool
	Yes      bool
}

func parseUserFlags(name string, args []string, withRoles bool) (userOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts userOptions
	var roles string
	fs.StringVar(&opts.Username, "username", "", "Username of the account")
	if withRoles {
		fs.StringVar(&roles, "roles", "", "Comma-separated role names")
	}
	if name == "user-disable" {
		fs.BoolVar(&opts.Enable, "enable", false, "Re-enable the account instead of disabling it")
	}
	if name == "user-delete" {
		fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	}

	if err := fs.Parse(args); err != nil {
		return userOptions{}, err
	}
	opts.Username = strings.TrimSpace(opts.Username)
	if opts.Username == "" {
		return userOptions{}, errors.New("--username is required")
	}
	if err := model.ValidateUsername(opts.Username); err != nil {
		return userOptions{}, err
	}
	opts.Roles = splitRoles(roles)
	return opts, nil
}

func parseUserListFlags(args []string) (userOptions, error) {
	fs := flag.NewFlagSet("user-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts userOptions
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of users to list")
	fs.IntVar(&opts.Offset, "offset", 0, "Number of users to skip")
	fs.BoolVar(&opts.JSON, "json", false, "Print users as JSON")

	if err := fs.Parse(args); err != nil {
		return userOptions{}, err
	}
	if opts.Limit <= 0 {
		return userOptions{}, errors.New("--limit must be greater than zero")
	}
	if opts.Offset < 0 {
		return userOptions{}, errors.New("--offset cannot be negative")
	}
	return opts, nil
}

func splitRoles(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// readPassword reads one line from r. The trailing newline is not part of the password.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if len(pw) < model.MinPasswordLen {
		return "", fmt.Errorf("password must be at least %d characters", model.MinPasswordLen)
	}
	return pw, nil
}

func hashPassword(pw string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// checkKnownRoles rejects role names the registry does not define.
func checkKnownRoles(reg *domainauth.Registry, roles []string) error {
	var unknown []string
	for _, r := range roles {
		if _, ok := reg.Resolve(r); !ok {
			unknown = append(unknown, r)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown roles: %s (defined: %s)",
			strings.Join(unknown, ", "), strings.Join(reg.Names(), ", "))
	}
	return nil
}

func withUserStore(cmdCtx *commandContext, f func(context.Context, userStore) error) error {
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		return f(ctx, data.NewUserRepo(db))
	})
}

func runUserAdd(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserFlags("user-add", args, true)
	if err != nil {
		return err
	}
	_, reg, err := loadRegistry(cmdCtx.Config.Auth.File)
	if err != nil {
		return err
	}
	if err := checkKnownRoles(reg, opts.Roles); err != nil {
		return err
	}
	pw, err := readPassword(cmdCtx.Stdin)
	if err != nil {
		return err
	}
	hash, err := hashPassword(pw, cmdCtx.Config.Auth.Database.BcryptCost)
	if err != nil {
		return err
	}

	return withUserStore(cmdCtx, func(ctx context.Context, store userStore) error {
		u, err := store.Create(ctx, model.CreateUserRequest{
			Username:     opts.Username,
			PasswordHash: hash,
			Roles:        opts.Roles,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		cmdCtx.Logger.Info("user created", "username", u.Username, "roles", u.Roles)
		return writef(cmdCtx.Stdout, "created user %s (%s)\n", u.Username, u.ID)
	})
}

func runUserPasswd(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserFlags("user-passwd", args, false)
	if err != nil {
		return err
	}
	pw, err := readPassword(cmdCtx.Stdin)
	if err != nil {
		return err
	}
	hash, err := hashPassword(pw, cmdCtx.Config.Auth.Database.BcryptCost)
	if err != nil {
		return err
	}

	return withUserStore(cmdCtx, func(ctx context.Context, store userStore) error {
		if _, err := store.Update(ctx, opts.Username, model.UpdateUserRequest{PasswordHash: &hash}); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		cmdCtx.Logger.Info("user password reset", "username", opts.Username)
		return writef(cmdCtx.Stdout, "password updated for %s\n", opts.Username)
	})
}

func runUserRoles(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserFlags("user-roles", args, true)
	if err != nil {
		return err
	}
	_, reg, err := loadRegistry(cmdCtx.Config.Auth.File)
	if err != nil {
		return err
	}
	if err := checkKnownRoles(reg, opts.Roles); err != nil {
		return err
	}

	return withUserStore(cmdCtx, func(ctx context.Context, store userStore) error {
		return setUserRoles(ctx, cmdCtx.Stdout, store, reg, opts)
	})
}

func setUserRoles(ctx context.Context, w io.Writer, store userStore, reg *domainauth.Registry, opts userOptions) error {
	roles := opts.Roles
	if roles == nil {
		roles = []string{}
	}
	u, err := store.Update(ctx, opts.Username, model.UpdateUserRequest{Roles: &roles})
	if err != nil {
		return fmt.Errorf("update roles: %w", err)
	}
	return writef(w, "%s roles: %s (effective: %s)\n",
		u.Username, strings.Join(u.Roles, ","), strings.Join(reg.Effective(u.Roles), ","))
}

func runUserDisable(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserFlags("user-disable", args, false)
	if err != nil {
		return err
	}

	return withUserStore(cmdCtx, func(ctx context.Context, store userStore) error {
		disabled := !opts.Enable
		u, err := store.Update(ctx, opts.Username, model.UpdateUserRequest{Disabled: &disabled})
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		state := "disabled"
		if !u.Disabled {
			state = "enabled"
		}
		cmdCtx.Logger.Info("user "+state, "username", u.Username)
		return writef(cmdCtx.Stdout, "%s %s\n", u.Username, state)
	})
}

func runUserList(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserListFlags(args)
	if err != nil {
		return err
	}

	return withUserStore(cmdCtx, func(ctx context.Context, store userStore) error {
		return listUsers(ctx, cmdCtx.Stdout, store, opts)
	})
}

// listUsers prints one page of users. Table output ends with a page summary;
// JSON output stays a bare array.
func listUsers(ctx context.Context, w io.Writer, store userStore, opts userOptions) error {
	users, err := store.List(ctx, opts.Limit, opts.Offset)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if err := printUsers(w, users, opts.JSON); err != nil {
		return err
	}
	if opts.JSON || len(users) == 0 {
		return nil
	}
	total, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	return writef(w, "showing %d-%d of %d users\n", opts.Offset+1, opts.Offset+len(users), total)
}

func runUserDelete(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserFlags("user-delete", args, false)
	if err != nil {
		return err
	}

	return withUserStore(cmdCtx, func(ctx context.Context, store userStore) error {
		return deleteUser(ctx, cmdCtx, store, opts)
	})
}

func deleteUser(ctx context.Context, cmdCtx *commandContext, store userStore, opts userOptions) error {
	if !opts.Yes {
		if err := confirmAction(cmdCtx, "delete user "+opts.Username); err != nil {
			return err
		}
	}
	if err := store.Delete(ctx, opts.Username); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	cmdCtx.Logger.Info("user deleted", "username", opts.Username)
	return writef(cmdCtx.Stdout, "deleted user %s\n", opts.Username)
}

func printUsers(w io.Writer, users []*model.User, asJSON bool) error {
	if asJSON {
		if users == nil {
			users = []*model.User{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		return writeln(w, "no users")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "USERNAME\tROLES\tDISABLED\tCREATED\n"); err != nil {
		return err
	}
	for _, u := range users {
		if err := writef(tw, "%s\t%s\t%t\t%s\n",
			u.Username, strings.Join(u.Roles, ","), u.Disabled, u.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tw.Flush()
}
