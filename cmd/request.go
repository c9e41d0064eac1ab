package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vedsharma/apitester/internal/collection"
	"github.com/vedsharma/apitester/internal/draft"
	"github.com/vedsharma/apitester/internal/format"
	"github.com/vedsharma/apitester/internal/model"
)

var (
	headers       []string
	queryParams   []string
	data          string
	noHistory     bool
	collectionID  string
	newCollection string
	description   string
)

func init() {
	for _, m := range model.Methods {
		method := m
		c := &cobra.Command{
			Use:   strings.ToLower(string(method)) + " <url>",
			Short: fmt.Sprintf("Send a %s request", method),
			Args:  cobra.ExactArgs(1),
			Run:   runRequest(method),
		}
		addRequestFlags(c)
		rootCmd.AddCommand(c)
	}
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Add header 'Key: Value' (can be used multiple times)")
	cmd.Flags().StringArrayVarP(&queryParams, "query", "q", []string{}, "Add query parameter 'key=value' (can be used multiple times)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "Request body (JSON string or @filename)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Don't save to history")
	cmd.Flags().StringVarP(&collectionID, "collection", "c", "", "Save the request and response into the collection with this id")
	cmd.Flags().StringVar(&newCollection, "new-collection", "", "Create a collection with this name and save into it")
	cmd.Flags().StringVar(&description, "description", "", "Description of the saved request")
}

func runRequest(method model.Method) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		body := data
		if strings.HasPrefix(body, "@") {
			content, err := readBodyFromFile(strings.TrimPrefix(body, "@"))
			if err != nil {
				format.PrintError(fmt.Sprintf("Failed to read file: %v", err))
				os.Exit(1)
			}
			body = content
		}

		a := mustBootstrap(cmd)
		defer a.Close()

		ctx := cmd.Context()
		saving := collectionID != "" || newCollection != ""
		if saving {
			a.sync(ctx)
		}

		a.ws.SetDraft(model.Draft{
			Method:  method,
			URL:     args[0],
			Headers: parseHeaders(headers),
			Params:  parseParams(queryParams),
			Body:    body,
		})
		a.ws.SetHistoryEnabled(!noHistory)

		if !noHistory && a.userID() != "" {
			warnIfSensitiveBody(body)
		}

		res, err := a.ws.Send(ctx)
		if err != nil {
			a.exitf("%s", describeError(err))
		}

		format.PrintResponse(&res.Response, verbose)

		if saving {
			saveResponse(a, cmd)
		}
	}
}

func saveResponse(a *app, cmd *cobra.Command) {
	target := collection.IntoNew(newCollection)
	if collectionID != "" {
		id, ok := findCollectionID(a, collectionID)
		if !ok {
			a.exitf("Collection not found: %s", collectionID)
		}
		target = collection.Into(id)
	}

	item, err := a.ws.SaveToCollection(cmd.Context(), target, description)
	if err != nil {
		a.exitf("Failed to save to collection: %s", describeError(err))
	}
	if item.ID.Local {
		format.PrintWarning("Not signed in: the saved request only exists for this session")
	}
	format.PrintSuccess(fmt.Sprintf("Saved '%s' (%s)", item.Description, item.ID.Value))
}

// describeError turns validation errors into their user-facing message
func describeError(err error) string {
	var verr *draft.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}

// parseHeaders turns "Key: Value" flags into enabled entries, keeping order
func parseHeaders(headerStrings []string) []model.Entry {
	entries := model.DefaultHeaders()
	for _, h := range headerStrings {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			entries = append(entries, model.Entry{
				Key:     strings.TrimSpace(parts[0]),
				Value:   strings.TrimSpace(parts[1]),
				Enabled: true,
			})
		}
	}
	return entries
}

// parseParams turns "key=value" flags into enabled entries, keeping order
func parseParams(paramStrings []string) []model.Entry {
	entries := make([]model.Entry, 0, len(paramStrings))
	for _, p := range paramStrings {
		key, value, _ := strings.Cut(p, "=")
		entries = append(entries, model.Entry{Key: key, Value: value, Enabled: true})
	}
	return entries
}

// readBodyFromFile reads file content with path validation to prevent directory traversal
func readBodyFromFile(filename string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}
	cleanPath := filepath.Clean(absPath)

	// Ensure file is within working directory (prevent path traversal)
	if !strings.HasPrefix(cleanPath, wd+string(filepath.Separator)) && cleanPath != wd {
		return "", fmt.Errorf("access denied: file must be within current directory")
	}

	// Check for symlinks - resolve and verify target is also within working directory
	realPath, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		realPath = cleanPath
	} else if !strings.HasPrefix(realPath, wd+string(filepath.Separator)) && realPath != wd {
		return "", fmt.Errorf("access denied: symlink target must be within current directory")
	}

	content, err := os.ReadFile(realPath)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// sensitiveBodyPatterns contains patterns that suggest sensitive data in request bodies
var sensitiveBodyPatterns = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"private_key", "privatekey",
	"credit_card", "creditcard", "card_number",
	"ssn", "social_security",
	"access_token", "refresh_token",
	"client_secret", "auth",
}

// warnIfSensitiveBody warns when a body that will be recorded in history looks sensitive
func warnIfSensitiveBody(body string) {
	if body == "" {
		return
	}

	lowerBody := strings.ToLower(body)
	for _, pattern := range sensitiveBodyPatterns {
		if strings.Contains(lowerBody, pattern) {
			format.PrintWarning("Request body may contain sensitive data (e.g., passwords, tokens). It will be stored in history.")
			format.PrintWarning("Use --no-history to skip storing this request.")
			return
		}
	}
}
