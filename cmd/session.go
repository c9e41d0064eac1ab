package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vedsharma/apitester/internal/format"
)

func init() {
	loginCmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Remember the user id issued by the identity provider",
		Long: `Remember the user id issued by the identity provider.

Sign-in itself happens with the identity provider; this command only records
which user subsequent commands act as.`,
		Args: cobra.ExactArgs(1),
		Run:  runLogin,
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the remembered user and continue anonymously",
		Run:   runLogout,
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		Run:   runWhoami,
	}

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

func runLogin(cmd *cobra.Command, args []string) {
	a := mustBootstrap(cmd)
	defer a.Close()

	uid := strings.TrimSpace(args[0])
	if uid == "" {
		a.exitf("User id must not be empty")
	}
	if err := a.sessionFile.Save(uid); err != nil {
		a.exitf("Failed to save session: %v", err)
	}
	a.session.SetUser(uid)

	format.PrintSuccess(fmt.Sprintf("Signed in as %s", uid))
}

func runLogout(cmd *cobra.Command, args []string) {
	a := mustBootstrap(cmd)
	defer a.Close()

	if err := a.sessionFile.Save(""); err != nil {
		a.exitf("Failed to clear session: %v", err)
	}
	a.session.SignOut()
	format.PrintSuccess("Signed out")
}

func runWhoami(cmd *cobra.Command, args []string) {
	a := mustBootstrap(cmd)
	defer a.Close()

	if uid := a.userID(); uid != "" {
		fmt.Println(uid)
		return
	}
	fmt.Println("anonymous")
}
