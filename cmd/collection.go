package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vedsharma/apitester/internal/collection"
	"github.com/vedsharma/apitester/internal/format"
	"github.com/vedsharma/apitester/internal/model"
	"github.com/vedsharma/apitester/internal/workspace"
)

func init() {
	collectionCmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"col"},
		Short:   "Manage request collections",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all collections",
		Run:   runCollectionList,
	}
	listCmd.Flags().StringP("search", "s", "", "Only show collections whose name contains this text")

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new collection",
		Args:  cobra.ExactArgs(1),
		Run:   runCollectionCreate,
	}

	showCmd := &cobra.Command{
		Use:   "show <collection-id> [item-id]",
		Short: "Show requests in a collection, or one saved request in full",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runCollectionShow,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <collection-id>",
		Short: "Delete a collection and every request in it",
		Args:  cobra.ExactArgs(1),
		Run:   runCollectionDelete,
	}
	deleteCmd.Flags().BoolP("yes", "y", false, "Don't ask for confirmation")

	removeCmd := &cobra.Command{
		Use:   "remove <collection-id> <item-id>",
		Short: "Remove a saved request from a collection",
		Args:  cobra.ExactArgs(2),
		Run:   runCollectionRemove,
	}

	runCmd := &cobra.Command{
		Use:   "run <collection-id>",
		Short: "Run all requests in a collection, oldest first",
		Args:  cobra.ExactArgs(1),
		Run:   runCollectionRun,
	}

	collectionCmd.AddCommand(listCmd, createCmd, showCmd, deleteCmd, removeCmd, runCmd)
	rootCmd.AddCommand(collectionCmd)
}

// loadCollections bootstraps the app and loads the signed-in user's collections
func loadCollections(cmd *cobra.Command) *app {
	a := mustBootstrap(cmd)
	a.sync(cmd.Context())
	return a
}

// findCollectionID resolves a collection id value to the tagged id. Names are
// not accepted: they are not unique, and `collection list` prints every id.
func findCollectionID(a *app, ref string) (model.ID, bool) {
	for _, col := range a.ws.Collections() {
		if col.ID.Value == ref {
			return col.ID, true
		}
	}
	return model.ID{}, false
}

func mustFindCollection(a *app, ref string) model.Collection {
	id, ok := findCollectionID(a, ref)
	if !ok {
		a.exitf("Collection not found: %s", ref)
	}
	col, _ := a.ws.Collection(id)
	return col
}

func findItemID(col model.Collection, ref string) (model.ID, bool) {
	for _, it := range col.Items {
		if it.ID.Value == ref {
			return it.ID, true
		}
	}
	return model.ID{}, false
}

func runCollectionList(cmd *cobra.Command, args []string) {
	a := loadCollections(cmd)
	defer a.Close()

	search, _ := cmd.Flags().GetString("search")
	format.Stdout().PrintCollectionList(collection.Search(a.ws.Collections(), search))
}

func runCollectionCreate(cmd *cobra.Command, args []string) {
	a := mustBootstrap(cmd)
	defer a.Close()

	id, err := a.ws.CreateCollection(cmd.Context(), args[0])
	if err != nil {
		a.exitf("Failed to create collection: %s", describeError(err))
	}
	if id.Local {
		format.PrintWarning("Not signed in: the collection only exists for this session")
	}
	format.PrintSuccess(fmt.Sprintf("Collection '%s' created (%s)", strings.TrimSpace(args[0]), id.Value))
}

func runCollectionShow(cmd *cobra.Command, args []string) {
	a := loadCollections(cmd)
	defer a.Close()

	col := mustFindCollection(a, args[0])
	if len(args) == 1 {
		format.Stdout().PrintCollectionItems(col)
		return
	}

	for _, it := range col.Items {
		if it.ID.Value == args[1] {
			format.Stdout().PrintSavedRequest(it)
			return
		}
	}
	a.exitf("Saved request not found: %s", args[1])
}

func runCollectionDelete(cmd *cobra.Command, args []string) {
	a := loadCollections(cmd)
	defer a.Close()

	col := mustFindCollection(a, args[0])
	yes, _ := cmd.Flags().GetBool("yes")
	confirm := promptConfirm
	if yes {
		confirm = collection.Always
	}

	err := a.ws.DeleteCollection(cmd.Context(), col.ID, confirm)
	if errors.Is(err, collection.ErrNotConfirmed) {
		fmt.Println("Cancelled")
		return
	}
	if err != nil {
		a.exitf("Failed to delete collection: %v", err)
	}
	format.PrintSuccess(fmt.Sprintf("Collection '%s' deleted", col.Name))
}

func runCollectionRemove(cmd *cobra.Command, args []string) {
	a := loadCollections(cmd)
	defer a.Close()

	col := mustFindCollection(a, args[0])
	itemID, ok := findItemID(col, args[1])
	if !ok {
		a.exitf("Saved request not found: %s", args[1])
	}
	a.ws.DeleteItem(cmd.Context(), col.ID, itemID)
	format.PrintSuccess(fmt.Sprintf("Removed request from '%s'", col.Name))
}

func runCollectionRun(cmd *cobra.Command, args []string) {
	a := loadCollections(cmd)
	defer a.Close()
	verbose, _ := cmd.Flags().GetBool("verbose")

	col := mustFindCollection(a, args[0])
	if len(col.Items) == 0 {
		a.exitf("Collection '%s' is empty", col.Name)
	}

	fmt.Printf("Running %d requests from collection '%s'\n\n", len(col.Items), col.Name)

	err := a.ws.RunCollection(cmd.Context(), col.ID, func(step workspace.RunStep) {
		fmt.Printf("[%d/%d] %s\n", step.Index, step.Total, step.Item.Description)
		if step.Err != nil {
			format.PrintError(fmt.Sprintf("Request failed: %s", describeError(step.Err)))
			return
		}
		format.PrintResponse(&step.Result.Response, verbose)
		fmt.Println()
	})
	if err != nil {
		a.exitf("Run interrupted: %v", err)
	}

	format.PrintSuccess(fmt.Sprintf("Completed running collection '%s'", col.Name))
}

// promptConfirm asks on stdin; anything but y/yes declines
func promptConfirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
