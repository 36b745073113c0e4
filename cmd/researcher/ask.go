package main

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researcher/internal/citation"
	"github.com/mohammad-safakhou/researcher/internal/documents"
	"github.com/mohammad-safakhou/researcher/internal/ingest"
	"github.com/spf13/cobra"
)

func askCMD() *cobra.Command {
	var sessionID string
	var files []string
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question, optionally with documents, and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" && len(files) > 0 {
				if sessionID, err = a.svc.CreateSession(ctx); err != nil {
					return err
				}
			}
			if len(files) > 0 {
				docs := documents.Set{}
				for _, path := range files {
					doc, err := ingest.ParseFile(path)
					if err != nil {
						return err
					}
					docs.Put(doc)
				}
				if _, err := a.svc.AddDocuments(ctx, sessionID, docs); err != nil {
					return err
				}
			}

			res, err := a.svc.Ask(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.PlanError != "" {
				fmt.Fprintf(out, "Plan unavailable: %s\n\n", res.PlanError)
			} else {
				fmt.Fprintln(out, "Plan:")
				for _, step := range res.Plan {
					fmt.Fprintf(out, "  %s\n", step)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, res.Answer.Answer)
			if len(res.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, line := range citation.FormatAll(res.Sources) {
					fmt.Fprintln(out, line)
				}
			}
			if res.BestEffort {
				fmt.Fprintln(out, "\n(best effort answer: reasoning step limit reached)")
			}
			fmt.Fprintf(out, "\nsession: %s\n", res.SessionID)
			return nil
		},
	}
	ask.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing chat session")
	ask.Flags().StringSliceVarP(&files, "file", "f", nil, "document to upload before asking (repeatable)")
	return ask
}
