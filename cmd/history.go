package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vedsharma/apitester/internal/format"
	"github.com/vedsharma/apitester/internal/history"
	"github.com/vedsharma/apitester/internal/model"
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "View request history",
		Run:   runHistoryList,
	}
	historyCmd.Flags().IntP("limit", "n", 10, "Number of requests to show")
	historyCmd.Flags().StringP("search", "s", "", "Only show requests whose URL contains this text")
	historyCmd.Flags().Int("more", 0, "Fetch this many additional pages")

	showCmd := &cobra.Command{
		Use:   "show <id or index>",
		Short: "Show full details of a request",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryShow,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id or index>",
		Short: "Delete a request from history",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryDelete,
	}

	replayCmd := &cobra.Command{
		Use:   "replay <id or index>",
		Short: "Load a request from history and send it again",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryReplay,
	}

	historyCmd.AddCommand(showCmd, deleteCmd, replayCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadHistory bootstraps the app and loads the signed-in user's history
func loadHistory(cmd *cobra.Command) *app {
	a := mustBootstrap(cmd)
	if a.userID() == "" {
		a.exitf("History is only kept for signed-in users (see 'apitester login')")
	}
	a.sync(cmd.Context())
	return a
}

// findHistoryEntry resolves a 1-based index or an id
func findHistoryEntry(a *app, identifier string) (model.HistoryEntry, bool) {
	entries := a.ws.History()
	if index, err := strconv.Atoi(identifier); err == nil && index > 0 && index <= len(entries) {
		return entries[index-1], true
	}
	for _, e := range entries {
		if e.ID == identifier {
			return e, true
		}
	}
	return model.HistoryEntry{}, false
}

func runHistoryList(cmd *cobra.Command, args []string) {
	a := loadHistory(cmd)
	defer a.Close()

	more, _ := cmd.Flags().GetInt("more")
	for i := 0; i < more && a.ws.HasMoreHistory(); i++ {
		if err := a.ws.LoadMoreHistory(cmd.Context()); err != nil {
			a.exitf("Failed to load more history: %v", err)
		}
	}

	limit, _ := cmd.Flags().GetInt("limit")
	search, _ := cmd.Flags().GetString("search")
	entries := history.Search(a.ws.History(), search)
	format.Stdout().PrintHistoryList(entries, limit, a.ws.HasMoreHistory())
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	a := loadHistory(cmd)
	defer a.Close()

	entry, ok := findHistoryEntry(a, args[0])
	if !ok {
		a.exitf("Request not found: %s", args[0])
	}
	format.Stdout().PrintHistoryDetail(entry)
}

func runHistoryDelete(cmd *cobra.Command, args []string) {
	a := loadHistory(cmd)
	defer a.Close()

	entry, ok := findHistoryEntry(a, args[0])
	if !ok {
		a.exitf("Request not found: %s", args[0])
	}
	a.ws.DeleteHistory(cmd.Context(), entry.ID)
	format.PrintSuccess(fmt.Sprintf("Deleted %s %s", entry.Method, entry.URL))
}

func runHistoryReplay(cmd *cobra.Command, args []string) {
	a := loadHistory(cmd)
	defer a.Close()
	verbose, _ := cmd.Flags().GetBool("verbose")

	entry, ok := findHistoryEntry(a, args[0])
	if !ok {
		a.exitf("Request not found: %s", args[0])
	}
	if err := a.ws.LoadFromHistory(entry.ID); err != nil {
		a.exitf("Failed to load request: %v", err)
	}

	d := a.ws.Draft()
	fmt.Printf("%s %s\n\n", d.Method, d.URL)
	res, err := a.ws.Send(cmd.Context())
	if err != nil {
		a.exitf("%s", describeError(err))
	}
	format.PrintResponse(&res.Response, verbose)
}
