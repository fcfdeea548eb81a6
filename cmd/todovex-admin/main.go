// ABOUTME: Admin CLI for todovex users, sessions and task data
// ABOUTME: Calls the backend surface directly with the adapter secret

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/todovex/internal/authadapter"
	"github.com/2389/todovex/internal/backend"
	"github.com/2389/todovex/internal/store"
)

const banner = `
  _            _                                 _           _
 | |_ ___   __| | _____   _______  __   __ _  __| |_ __ ___ (_)_ __
 | __/ _ \ / _' |/ _ \ \ / / _ \ \/ /  / _' |/ _' | '_ ' _ \| | '_ \
 | || (_) | (_| | (_) \ V /  __/>  <  | (_| | (_| | | | | | | | | | |
  \__\___/ \__,_|\___/ \_/ \___/_/\_\  \__,_|\__,_|_| |_| |_|_|_| |_|
`

const callTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	addr := os.Getenv("TODOVEX_BACKEND")
	if addr == "" {
		addr = "localhost:50051"
	}
	secret := os.Getenv("TODOVEX_ADAPTER_SECRET")

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	a, err := connect(addr, secret)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	switch cmd {
	case "status":
		err = a.cmdStatus()
	case "users":
		err = a.cmdUsers(args)
	case "sessions":
		err = a.cmdSessions(args)
	case "passkeys":
		err = a.cmdPasskeys(args)
	case "projects":
		err = a.cmdProjects(args)
	case "todos":
		err = a.cmdTodos(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: todovex-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                     Check the backend surface is reachable")
	fmt.Println("  users                      List all users")
	fmt.Println("  users show <email>         Show a user with sessions and passkeys")
	fmt.Println("  users delete <user-id>     Delete a user and everything they own")
	fmt.Println("  sessions <user-id>         List a user's sessions")
	fmt.Println("  sessions purge             Delete every expired session")
	fmt.Println("  passkeys <user-id>         List a user's passkeys")
	fmt.Println("  projects <user-id>         List a user's projects")
	fmt.Println("  todos <user-id>            List a user's todos")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  TODOVEX_BACKEND            Backend gRPC address (default: localhost:50051)")
	fmt.Println("  TODOVEX_ADAPTER_SECRET     Shared adapter secret (required)")
	fmt.Println()
}

// admin bundles the typed clients the commands use.
type admin struct {
	addr     string
	client   *backend.Client
	identity *authadapter.Adapter
	tasks    *backend.TaskClient
}

func connect(addr, secret string) (*admin, error) {
	if secret == "" {
		return nil, errors.New("TODOVEX_ADAPTER_SECRET environment variable is required")
	}
	client, err := backend.Dial(addr, secret)
	if err != nil {
		return nil, err
	}
	identity, err := authadapter.New(client, nil)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &admin{
		addr:     addr,
		client:   client,
		identity: identity,
		tasks:    backend.NewTaskClient(client),
	}, nil
}

func (a *admin) close() {
	_ = a.client.Close()
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// requireArg returns args[0] or an error naming what is missing.
func requireArg(args []string, what string) (string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return strings.TrimSpace(args[0]), nil
}

func (a *admin) cmdStatus() error {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	ctx, cancel := callContext()
	defer cancel()

	fmt.Println()
	if _, err := a.identity.GetUser(ctx, "status-probe"); err != nil {
		yellow.Printf("  Backend:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		fmt.Println()
		return nil
	}
	green.Printf("  Backend:  ")
	fmt.Printf("connected to %s\n", a.addr)
	fmt.Println()
	return nil
}

func (a *admin) cmdUsers(args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return a.cmdUsersList()
	case "show", "get":
		return a.cmdUsersShow(args)
	case "delete", "rm", "remove":
		return a.cmdUsersDelete(args)
	default:
		return fmt.Errorf("unknown users subcommand: %s (use list, show, delete)", subcmd)
	}
}

func (a *admin) cmdUsersList() error {
	ctx, cancel := callContext()
	defer cancel()

	var users []*store.User
	if _, err := a.client.Query(ctx, backend.FnListUsers, struct{}{}, &users); err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Users")
	cyan.Println("  -----")

	if len(users) == 0 {
		fmt.Println("  (no users)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tEMAIL\tNAME")
	fmt.Fprintln(w, "  --\t-----\t----")
	for _, u := range users {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", u.ID, u.Email, orDash(u.Name))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func (a *admin) cmdUsersShow(args []string) error {
	email, err := requireArg(args, "email")
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	user, err := a.identity.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("no user with email %s", email)
	}
	sessions, err := a.identity.ListSessions(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	passkeys, err := a.identity.ListAuthenticatorsByUserID(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("listing passkeys: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  User")
	cyan.Println("  ----")
	fmt.Printf("  ID:        %s\n", user.ID)
	fmt.Printf("  Email:     %s\n", user.Email)
	if user.Name != nil {
		fmt.Printf("  Name:      %s\n", *user.Name)
	}
	fmt.Printf("  Sessions:  %d\n", len(sessions))
	fmt.Printf("  Passkeys:  %d\n", len(passkeys))
	fmt.Println()
	return nil
}

func (a *admin) cmdUsersDelete(args []string) error {
	userID, err := requireArg(args, "user id")
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	deleted, err := a.identity.DeleteUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if deleted == nil {
		return fmt.Errorf("no user with id %s", userID)
	}
	color.Green("  ✓ Deleted user %s (%s)\n", deleted.ID, deleted.Email)
	return nil
}

func (a *admin) cmdSessions(args []string) error {
	if len(args) > 0 && args[0] == "purge" {
		ctx, cancel := callContext()
		defer cancel()

		n, err := a.identity.PurgeExpiredSessions(ctx)
		if err != nil {
			return fmt.Errorf("purging sessions: %w", err)
		}
		color.Green("  ✓ Purged %d expired session(s)\n", n)
		return nil
	}

	userID, err := requireArg(args, "user id")
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	sessions, err := a.identity.ListSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Sessions")
	cyan.Println("  --------")
	if len(sessions) == 0 {
		fmt.Println("  (no sessions)")
		fmt.Println()
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTOKEN\tEXPIRES\tSTATE")
	fmt.Fprintln(w, "  --\t-----\t-------\t-----")
	for _, s := range sessions {
		state := color.GreenString("active")
		if !s.Expires.After(now) {
			state = color.YellowString("expired")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", s.ID, truncate(s.SessionToken, 8), s.Expires.Format("Jan 02 15:04"), state)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func (a *admin) cmdPasskeys(args []string) error {
	userID, err := requireArg(args, "user id")
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	auths, err := a.identity.ListAuthenticatorsByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing passkeys: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Passkeys")
	cyan.Println("  --------")
	if len(auths) == 0 {
		fmt.Println("  (no passkeys)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  CREDENTIAL\tDEVICE\tBACKED UP\tCOUNTER\tTRANSPORTS")
	fmt.Fprintln(w, "  ----------\t------\t---------\t-------\t----------")
	for _, au := range auths {
		var transports []string
		for _, t := range au.TransportList() {
			transports = append(transports, string(t))
		}
		fmt.Fprintf(w, "  %s\t%s\t%t\t%d\t%s\n",
			truncate(au.CredentialID, 16), au.CredentialDeviceType, au.CredentialBackedUp, au.Counter, strings.Join(transports, ","))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func (a *admin) cmdProjects(args []string) error {
	userID, err := requireArg(args, "user id")
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	projects, err := a.tasks.ListProjects(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Projects")
	cyan.Println("  --------")
	if len(projects) == 0 {
		fmt.Println("  (no projects)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tTYPE")
	fmt.Fprintln(w, "  --\t----\t----")
	for _, p := range projects {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", p.ID, p.Name, p.Type)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func (a *admin) cmdTodos(args []string) error {
	userID, err := requireArg(args, "user id")
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	todos, err := a.tasks.ListTodos(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing todos: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Todos")
	cyan.Println("  -----")
	if len(todos) == 0 {
		fmt.Println("  (no todos)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTASK\tPROJECT\tDUE\tDONE\tEMBEDDED")
	fmt.Fprintln(w, "  --\t----\t-------\t---\t----\t--------")
	for _, t := range todos {
		done := " "
		if t.IsCompleted {
			done = "✓"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%t\n",
			truncate(t.ID, 12), truncate(t.TaskName, 40), truncate(t.ProjectID, 12),
			time.UnixMilli(t.DueDate).Format("Jan 02"), done, len(t.Embedding) > 0)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
