package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antoniostano/vistaar/internal/auth"
	"github.com/antoniostano/vistaar/internal/config"
)

func newAuthCmd(root *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored API token",
	}

	store := func() (*auth.Store, error) {
		cfg, _, err := root.load(true)
		if err != nil {
			return nil, err
		}
		return openAuthStore(cfg)
	}

	c.AddCommand(
		&cobra.Command{
			Use:   "login [token]",
			Short: "Store a token (read from stdin when omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				s, err := store()
				if err != nil {
					return err
				}
				token, err := tokenArg(c.InOrStdin(), args)
				if err != nil {
					return err
				}
				user, err := s.Save(token)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "logged in as %s\n", displayName(user))
				return nil
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Forget the stored token",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				s, err := store()
				if err != nil {
					return err
				}
				s.Logout()
				fmt.Fprintln(c.OutOrStdout(), "logged out")
				return nil
			},
		},
		&cobra.Command{
			Use:   "whoami",
			Short: "Show the identity of the stored token",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				s, err := store()
				if err != nil {
					return err
				}
				user, err := s.User()
				if err != nil {
					return err
				}
				fmt.Fprintln(c.OutOrStdout(), displayName(user))
				return nil
			},
		},
	)
	return c
}

func openAuthStore(cfg config.Config) (*auth.Store, error) {
	return auth.NewStore(auth.Config{
		TokenFile:     cfg.TokenFile,
		PublicKeyFile: cfg.JWTPublicKeyFile,
		Bypass:        cfg.BypassAuth,
	})
}

func tokenArg(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, 64<<10))
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("no token given")
	}
	return token, nil
}

func displayName(u auth.User) string {
	switch {
	case u.Name != "" && u.Email != "":
		return fmt.Sprintf("%s <%s>", u.Name, u.Email)
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	}
	return "anonymous"
}
