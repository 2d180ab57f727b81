package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

var (
	userRole          string
	userPassword      string
	userPasswordStdin bool
	userName          string
	userEmail         string
	userReset         bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user account",
	Long: `Create a user account directly in the configured store. This is how the
first administrator of a new installation is created.

Examples:
  unifiedviews user create admin --password-stdin < admin.pw
  UV_PASSWORD=s3cret-pass unifiedviews user create alice --role viewer
  unifiedviews user create admin --reset --password-stdin`,
	Args: cobra.ExactArgs(1),
	RunE: runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)

	userCreateCmd.Flags().StringVar(&userRole, "role", models.RoleAdmin, "role (admin, user, viewer)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "password (default: $UV_PASSWORD)")
	userCreateCmd.Flags().BoolVar(&userPasswordStdin, "password-stdin", false, "read the password from stdin")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "full name")
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCreateCmd.Flags().BoolVar(&userReset, "reset", false, "set password and role of an existing account instead of failing")
}

func readPassword(cmd *cobra.Command) (string, error) {
	if userPasswordStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	return firstNonEmpty(userPassword, os.Getenv("UV_PASSWORD")), nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	username := strings.TrimSpace(args[0])
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	switch {
	case len(username) < 3:
		return fmt.Errorf("username must have at least 3 characters")
	case len(password) < 8:
		return fmt.Errorf("password must have at least 8 characters")
	case userRole != models.RoleAdmin && userRole != models.RoleUser && userRole != models.RoleViewer:
		return fmt.Errorf("unknown role %q", userRole)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	a, err := openApp(cfg, newLogger("user"))
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.Store.GetUserByUsername(username)
	switch {
	case err == nil && !userReset:
		return fmt.Errorf("user %s already exists (use --reset to change it)", username)
	case err == nil:
		user.Roles = []models.Role{userRole}
		user.Enabled = true
		user.UpdatedAt = time.Now()
	case errors.Is(err, storage.ErrNotFound):
		user = models.NewUser(username, userRole)
	default:
		return err
	}
	user.PasswordHash = hash
	if userName != "" {
		user.FullName = userName
	}
	if userEmail != "" {
		user.Email = userEmail
	}

	if err := a.Store.SaveUser(user); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ User %s (%s) saved\n", user.Username, userRole)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, newLogger("user"))
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.Store.ListUsers()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLES\tENABLED\tLAST LOGIN")
	for _, u := range users {
		last := "-"
		if u.LastLoginAt != nil {
			last = u.LastLoginAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", u.Username, strings.Join(u.Roles, ","), u.Enabled, last)
	}
	return w.Flush()
}
