package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/plauth/plauth"
	"github.com/plauth/plauth/flows"
	"github.com/plauth/plauth/oidcclient"
)

type rootOptions struct {
	profile string
	home    string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "plauth",
		Short:         "Manage OAuth2/OIDC credentials for Planet-style APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.profile, "profile", "default", "named client profile to use")
	cmd.PersistentFlags().StringVar(&opts.home, "auth-home", "", "directory holding profiles (default ~/.plauth)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newLoginCmd(opts),
		newRefreshCmd(opts),
		newPrintTokenCmd(opts),
		newUserinfoCmd(opts),
		newProfilesCmd(opts),
		newResetCmd(opts),
	)
	return cmd
}

func (o *rootOptions) authHome() (string, error) {
	if o.home != "" {
		return o.home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".plauth"), nil
}

func (o *rootOptions) logger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if o.verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

// auth builds the Auth container for the selected profile. The profile
// directory holds client.json (the client configuration) and token.json
// (the cached credential).
func (o *rootOptions) auth() (*plauth.Auth, error) {
	home, err := o.authHome()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(home, o.profile)
	configPath := filepath.Join(dir, "client.json")
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("profile %q has no client.json under %s: %w", o.profile, dir, err)
	}
	return plauth.NewFromConfigFile(configPath, filepath.Join(dir, "token.json"),
		plauth.WithLogger(o.logger()),
		plauth.WithProfileName(o.profile),
	)
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var scopes []string
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Perform an interactive or client-credentials login and cache the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.auth()
			if err != nil {
				return err
			}
			loginOpts := &flows.LoginOptions{
				Scopes: scopes,
				OpenURL: func(u string) error {
					fmt.Fprintln(cmd.OutOrStdout(), "Open this URL in your browser to continue:")
					fmt.Fprintln(cmd.OutOrStdout(), "  "+u)
					if noBrowser {
						return nil
					}
					return openBrowser(u)
				},
				DisplayDeviceCode: func(da *oidcclient.DeviceAuthorization) error {
					if da.VerificationURIComplete != "" {
						fmt.Fprintln(cmd.OutOrStdout(), "Visit", da.VerificationURIComplete, "to approve this login.")
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), "Visit", da.VerificationURI, "and enter code", da.UserCode)
					}
					return nil
				},
			}
			if _, err := a.Login(cmd.Context(), loginOpts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Login succeeded for profile", opts.profile)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "override the configured scopes")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the login URL instead of opening a browser")
	return cmd
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a credential refresh regardless of expiry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.auth()
			if err != nil {
				return err
			}
			cred, err := a.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Credential refreshed; expires", cred.Expiry().Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}

func newPrintTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "print-token",
		Short: "Print a current access token, refreshing if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.auth()
			if err != nil {
				return err
			}
			token, err := a.AccessToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newUserinfoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "userinfo",
		Short: "Fetch the OIDC userinfo document for the cached credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.auth()
			if err != nil {
				return err
			}
			info, err := a.Userinfo(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

func newProfilesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List profiles found under the auth home directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := opts.authHome()
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(home)
			if os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles found under", home)
				return nil
			}
			if err != nil {
				return err
			}
			var names []string
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				if _, err := os.Stat(filepath.Join(home, e.Name(), "client.json")); err == nil {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			for _, n := range names {
				marker := " "
				if n == opts.profile {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, n)
			}
			return nil
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the cached credential for the selected profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.auth()
			if err != nil {
				return err
			}
			if err := a.Store().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cached credential cleared for profile", opts.profile)
			return nil
		},
	}
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
