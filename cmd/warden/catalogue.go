package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/warden/internal/command"
	"github.com/zulandar/warden/internal/session"
)

func newCatalogueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogue",
		Short: "Inspect message catalogues",
	}
	cmd.AddCommand(newCatalogueCheckCmd())
	cmd.AddCommand(newCatalogueRepliesCmd())
	return cmd
}

func newCatalogueCheckCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "check <number>",
		Short: "Validate a target message catalogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := session.LoadCatalogue(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages\n", session.CataloguePath(dir, args[0]), len(lines))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory holding np<N>.txt files")
	return cmd
}

func newCatalogueRepliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replies [path]",
		Short: "Validate a reply catalogue, or print the built-in one's triggers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := command.DefaultCatalogue()
			source := "built-in"
			if len(args) == 1 {
				var err error
				if cat, err = command.LoadCatalogueFile(args[0]); err != nil {
					return err
				}
				source = args[0]
			}
			if err := cat.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d triggers, %d admin replies\n", source, len(cat.Triggers), len(cat.AdminMention))
			for _, tr := range cat.Triggers {
				fmt.Fprintf(out, "  %s %q\n", tr.Match, tr.Word)
			}
			return nil
		},
	}
}
