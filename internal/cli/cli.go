// Package cli provides the command-line interface for nexusctl.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pysugar/nexusctl/internal/auth"
	"github.com/pysugar/nexusctl/internal/auth/project"
	"github.com/pysugar/nexusctl/internal/config"
	"github.com/pysugar/nexusctl/internal/discovery"
	"github.com/pysugar/nexusctl/internal/history"
	"github.com/pysugar/nexusctl/internal/store"
	"github.com/pysugar/nexusctl/internal/version"
)

var (
	verbose      bool
	logoutAll    bool
	importCreds  bool
	historyLimit int
)

// RootCmd is the root command for the CLI.
var RootCmd = &cobra.Command{
	Use:           "nexusctl",
	Short:         "Provision OAuth credentials for AI provider accounts",
	Long:          "nexusctl authenticates against Google's Cloud Code API via the browser OAuth flow and manages the resulting accounts for other tools to use.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Init registers all commands and flags.
func Init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored account")
	discoverCmd.Flags().BoolVar(&importCreds, "import", false, "import discovered credentials into the account store")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of events to show")

	accountsCmd.AddCommand(accountsUseCmd, accountsRemoveCmd)
	RootCmd.AddCommand(loginCmd, logoutCmd, accountsCmd, statusCmd, tokenCmd, discoverCmd, historyCmd, versionCmd)
}

// newEnv wires the auth flow from config, store, and event log.
func newEnv() (*auth.Flow, *history.Log, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	path, err := store.DefaultPath()
	if err != nil {
		return nil, nil, err
	}

	var events *history.Log
	if cfg.HistoryEnabled() {
		dir, err := config.Dir()
		if err == nil {
			if mkErr := os.MkdirAll(dir, 0o700); mkErr == nil {
				events, err = history.Open(filepath.Join(dir, history.FileName))
			}
		}
		if events == nil {
			log.Debugf("auth-event history unavailable: %v", err)
		}
	}

	return auth.New(cfg, store.New(path), events, project.NewResolver()), events, nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate a provider account through the browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, _, err := newEnv()
		if err != nil {
			return err
		}

		acc, err := flow.StartAuthFlow(cmd.Context())
		if err != nil {
			return err
		}

		color.Green("✔ Logged in as %s", acc.Email)
		if acc.ProjectID != "" {
			fmt.Printf("  project: %s\n", acc.ProjectID)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout [email]",
	Short: "Remove one stored account, or all with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, _, err := newEnv()
		if err != nil {
			return err
		}

		if logoutAll {
			if err := flow.LogoutAll(); err != nil {
				return err
			}
			color.Green("✔ All accounts removed")
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("specify an email or --all")
		}
		ok, err := flow.RemoveAccount(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no account %s", args[0])
		}
		color.Green("✔ Removed %s", args[0])
		return nil
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List stored accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, _, err := newEnv()
		if err != nil {
			return err
		}

		accounts, active, err := flow.ListAccounts()
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts. Run `nexusctl login` to add one.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tEMAIL\tPROJECT\tEXPIRES")
		for _, acc := range accounts {
			marker := " "
			if acc.Email == active {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, acc.Email, acc.ProjectID, expiryLabel(acc))
		}
		return w.Flush()
	},
}

var accountsUseCmd = &cobra.Command{
	Use:   "use <email>",
	Short: "Make an account the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, err := newEnv()
		if err != nil {
			return err
		}
		path, err := store.DefaultPath()
		if err != nil {
			return err
		}
		ok, err := store.New(path).SetActive(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no account %s", args[0])
		}
		color.Green("✔ Active account is now %s", args[0])
		return nil
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <email>",
	Short: "Remove one stored account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, _, err := newEnv()
		if err != nil {
			return err
		}
		ok, err := flow.RemoveAccount(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no account %s", args[0])
		}
		color.Green("✔ Removed %s", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active account and token state",
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, _, err := newEnv()
		if err != nil {
			return err
		}
		if !flow.IsAuthenticated() {
			fmt.Println("Not authenticated. Run `nexusctl login`.")
			return nil
		}

		accounts, active, err := flow.ListAccounts()
		if err != nil {
			return err
		}
		for _, acc := range accounts {
			if acc.Email != active {
				continue
			}
			color.Green("Authenticated as %s", acc.Email)
			if acc.ProjectID != "" {
				fmt.Printf("  project: %s\n", acc.ProjectID)
			}
			fmt.Printf("  token:   %s\n", expiryLabel(acc))
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token, refreshing if necessary",
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, _, err := newEnv()
		if err != nil {
			return err
		}
		cred, err := flow.GetValidAccessToken(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(cred.AccessToken)
		return nil
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find credentials left behind by other AI tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, events, err := newEnv()
		if err != nil {
			return err
		}

		result := discovery.ScanAll()
		if len(result.Credentials) == 0 {
			fmt.Println("No credentials found.")
			return nil
		}

		path, err := store.DefaultPath()
		if err != nil {
			return err
		}
		st := store.New(path)

		for _, cred := range result.Credentials {
			fmt.Printf("%s: %s (refresh token %s)\n", cred.Source, credLabel(cred), discovery.MaskToken(cred.RefreshToken))
			if !importCreds {
				continue
			}
			if !cred.Importable() {
				fmt.Println("  skipped: no email attached")
				continue
			}
			err := st.AddOrUpdate(store.Account{
				Email:        cred.Email,
				AccessToken:  cred.AccessToken,
				RefreshToken: cred.RefreshToken,
				Expires:      cred.ExpiresAt.UnixMilli(),
				ProjectID:    cred.ProjectID,
			})
			events.Record(history.KindDiscover, cred.Email, cred.Source, err)
			if err != nil {
				return err
			}
			color.Green("  ✔ imported %s", cred.Email)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent auth events",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, events, err := newEnv()
		if err != nil {
			return err
		}
		if events == nil {
			fmt.Println("History is disabled.")
			return nil
		}

		list, err := events.Recent(historyLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tKIND\tEMAIL\tRESULT")
		for _, ev := range list {
			result := "ok"
			if ev.Error != "" {
				result = ev.Error
			}
			when := time.UnixMilli(ev.Timestamp).Format(time.RFC3339)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", when, ev.Kind, ev.Email, result)
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nexusctl %s (%s, built %s)\n", version.Version, version.Commit, version.BuildTime)
	},
}

func expiryLabel(acc store.Account) string {
	if store.IsExpired(acc, 0) {
		return "expired"
	}
	return "valid until " + acc.ExpiresAt().Format(time.RFC3339)
}

func credLabel(cred discovery.Credential) string {
	if cred.Email != "" {
		return cred.Email
	}
	return cred.ConfigPath
}
