package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harshmpotenz/SideBar/internal/app"
	"github.com/harshmpotenz/SideBar/internal/identity"
	"github.com/harshmpotenz/SideBar/internal/session"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in with email and password",
	Long: `Signs in against the identity service and writes the session file.
A running "nucleas serve" picks the new session up and every open panel
switches to its main screen.

The password is read from --password or, when omitted, from the first line
of standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var signupCmd = &cobra.Command{
	Use:   "signup <email>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignup,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the session file",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var oauthURLCmd = &cobra.Command{
	Use:   "oauth-url",
	Short: "Start an OAuth sign-in and print the provider URL",
	Long: `Prints the URL to open in a browser. With --exchange the command then
waits for the authorization code (the "code" query parameter of the
redirect) on standard input and completes the sign-in.`,
	Args: cobra.NoArgs,
	RunE: runOAuthURL,
}

func init() {
	loginCmd.Flags().String("password", "", "password (read from stdin when empty)")
	signupCmd.Flags().String("password", "", "password (read from stdin when empty)")
	oauthURLCmd.Flags().Bool("exchange", false, "read the authorization code from stdin and complete the sign-in")
	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd, oauthURLCmd)
}

// identityStore opens the configured identity service behind a session store.
func identityStore(cmd *cobra.Command) (*session.Store, identity.Service, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.IdentityMode == "memory" {
		logger.Warn("IDENTITY_MODE=memory keeps sessions in this process only")
	}
	svc, _ := app.NewIdentity(cfg, logger)
	store := session.NewStore(svc, session.Options{
		OAuthProvider: cfg.OAuthProvider,
		RedirectURL:   cfg.RedirectURL,
		Logger:        logger,
	})
	return store, svc, nil
}

func readSecret(cmd *cobra.Command, flag string) (string, error) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v, nil
	}
	line, err := readLine(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read %s from stdin: %w", flag, err)
	}
	return line, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := readSecret(cmd, "password")
	if err != nil {
		return err
	}
	store, _, err := identityStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	res := store.SignIn(cmd.Context(), args[0], password)
	if !res.OK {
		return errors.New(res.Message)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", strings.TrimSpace(args[0]))
	return nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	password, err := readSecret(cmd, "password")
	if err != nil {
		return err
	}
	store, _, err := identityStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	res := store.SignUp(cmd.Context(), args[0], password)
	if !res.OK {
		return errors.New(res.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	store, _, err := identityStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	res := store.SignOut(cmd.Context())
	if !res.OK {
		return errors.New(res.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	_, svc, err := identityStore(cmd)
	if err != nil {
		return err
	}
	sess, err := svc.GetCurrentSession(cmd.Context())
	if err != nil {
		return fmt.Errorf("session lookup: %w", err)
	}
	out := cmd.OutOrStdout()
	if sess == nil || sess.User == nil {
		fmt.Fprintln(out, "Not signed in")
		return nil
	}
	fmt.Fprintf(out, "%s (%s)\n", sess.User.Email, sess.User.ID)
	if sess.ExpiresAt > 0 {
		fmt.Fprintf(out, "access token expires %s\n", time.Unix(sess.ExpiresAt, 0).Local().Format(time.RFC1123))
	}
	return nil
}

func runOAuthURL(cmd *cobra.Command, _ []string) error {
	store, svc, err := identityStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	target, res := store.SignInWithOAuth(cmd.Context())
	if !res.OK {
		return errors.New(res.Message)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, target)

	if exchange, _ := cmd.Flags().GetBool("exchange"); !exchange {
		return nil
	}
	fmt.Fprintln(out, "Paste the code from the redirect URL:")
	code, err := readLine(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read code: %w", err)
	}
	sess, err := svc.ExchangeCodeForSession(cmd.Context(), strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("google login failed: %w", err)
	}
	fmt.Fprintf(out, "Signed in as %s\n", sess.User.Email)
	return nil
}
