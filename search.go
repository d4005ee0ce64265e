package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagSearchTypes []string
	flagSearchLimit int
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across mail, calendar, files, and chats",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().StringSliceVar(&flagSearchTypes, "types", []string{"message", "event", "driveItem"},
		"entity types to search (message, event, driveItem, drive, chatMessage, person)")
	cmd.Flags().IntVar(&flagSearchLimit, "limit", 25, "maximum number of results")

	return cmd
}

// searchHit is the subset of a search resource shown in table output.
// Messages carry subject, drive items carry name; either may be empty.
type searchHit struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	manager := newManager(logger)
	client := newGraphClient(manager, logger)

	var raw []json.RawMessage

	for item := range client.SearchQuery(cmd.Context(), args[0], flagSearchTypes, nil, flagSearchLimit) {
		raw = append(raw, item)
	}

	if flagJSON {
		return printJSON(raw)
	}

	if len(raw) == 0 {
		statusf(flagQuiet, "No results.\n")

		return nil
	}

	rows := make([][]string, 0, len(raw))

	for _, item := range raw {
		var hit searchHit
		if err := json.Unmarshal(item, &hit); err != nil {
			continue
		}

		title := hit.Subject
		if title == "" {
			title = hit.Name
		}

		rows = append(rows, []string{hit.ID, truncate(strings.TrimSpace(title), 60)})
	}

	printTable(os.Stdout, []string{"ID", "TITLE"}, rows)

	return nil
}
