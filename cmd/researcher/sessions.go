package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func sessionsCMD() *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored chat sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List chat sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			infos, err := a.svc.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTURNS\tDOCUMENTS\tUPDATED")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", info.ID, info.Turns, strings.Join(info.Documents, ","), info.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a chat session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.svc.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"id":           args[0],
				"chat_history": st.History,
				"documents":    st.Documents.Names(),
				"updated_at":   st.UpdatedAt,
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.svc.DeleteSession(cmd.Context(), args[0])
		},
	}

	var k int
	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Full-text search over past conversation turns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			hits, err := a.svc.SearchHistory(strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, h := range hits {
				fmt.Fprintf(out, "%s #%d (%s, %.3f)\n  %s\n", h.SessionID, h.Turn, h.Role, h.Score, h.Snippet)
			}
			return nil
		},
	}
	search.Flags().IntVarP(&k, "limit", "k", 10, "maximum hits")

	sessions.AddCommand(list, show, del, search)
	return sessions
}
