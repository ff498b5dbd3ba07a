package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"kittyledger/pkg/domain"
)

func parseEntityID(raw string) (domain.EntityID, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid kitty id %q: %w", raw, err)
	}
	return domain.EntityID(v), nil
}

func parseAccount(raw string) (domain.AccountID, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account %q: %w", raw, err)
	}
	return domain.AccountID(v), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Mint a kitty with a random genetic code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.service()
			if err != nil {
				return err
			}
			id, err := a.svc.Create(cmd.Context(), opts.origin())
			if err != nil {
				return err
			}
			kitty, err := a.svc.Kitty(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created kitty %d dna %s\n", id, kitty.DNA)
			return nil
		},
	}
}

func newTransferCmd(opts *rootOptions) *cobra.Command {
	var to uint64
	cmd := &cobra.Command{
		Use:   "transfer <id>",
		Short: "Transfer a kitty to another account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.service()
			if err != nil {
				return err
			}
			id, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			if err := a.svc.Transfer(cmd.Context(), opts.origin(), domain.AccountID(to), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transferred kitty %d from %d to %d\n", id, opts.account, to)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&to, "to", 0, "recipient account")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newBreedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "breed <father> <mother>",
		Short: "Breed two kitties owned by the caller",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.service()
			if err != nil {
				return err
			}
			father, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			mother, err := parseEntityID(args[1])
			if err != nil {
				return err
			}
			id, err := a.svc.Breed(cmd.Context(), opts.origin(), father, mother)
			if err != nil {
				return err
			}
			kitty, err := a.svc.Kitty(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bred kitty %d from %d and %d dna %s\n", id, father, mother, kitty.DNA)
			return nil
		},
	}
}

type kittyView struct {
	ID      domain.EntityID    `json:"id"`
	DNA     domain.GeneticCode `json:"dna"`
	Owner   domain.AccountID   `json:"owner"`
	Parents *domain.ParentPair `json:"parents,omitempty"`
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a kitty as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.service()
			if err != nil {
				return err
			}
			id, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			kitty, err := a.svc.Kitty(ctx, id)
			if err != nil {
				return err
			}
			owner, err := a.svc.OwnerOf(ctx, id)
			if err != nil {
				return err
			}
			view := kittyView{ID: kitty.ID, DNA: kitty.DNA, Owner: owner}
			pair, ok, err := a.svc.Parents(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				view.Parents = &pair
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}
}

func newHoldingsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings <account>",
		Short: "List the kitties held by an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.service()
			if err != nil {
				return err
			}
			owner, err := parseAccount(args[0])
			if err != nil {
				return err
			}
			ids, err := a.svc.Holdings(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []domain.EntityID{}
			}
			return writeJSON(cmd.OutOrStdout(), ids)
		},
	}
}

type lineageView struct {
	ID       domain.EntityID    `json:"id"`
	Parents  *domain.ParentPair `json:"parents,omitempty"`
	Siblings []domain.EntityID  `json:"siblings"`
	Partners []domain.EntityID  `json:"partners"`
	Children []domain.EntityID  `json:"children"`
}

func newLineageCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <id>",
		Short: "Print the genealogy of a kitty as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.service()
			if err != nil {
				return err
			}
			id, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := a.svc.Kitty(ctx, id); err != nil {
				return err
			}
			view := lineageView{ID: id, Siblings: []domain.EntityID{}, Children: []domain.EntityID{}}
			pair, ok, err := a.svc.Parents(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				view.Parents = &pair
			}
			if view.Siblings, err = a.svc.Siblings(ctx, id); err != nil {
				return err
			}
			if view.Partners, err = a.svc.Partners(ctx, id); err != nil {
				return err
			}
			// children are keyed by ordered pair, so collect both orders per partner
			for _, partner := range view.Partners {
				for _, p := range []domain.ParentPair{{Father: id, Mother: partner}, {Father: partner, Mother: id}} {
					kids, err := a.svc.Children(ctx, p.Father, p.Mother)
					if err != nil {
						return err
					}
					view.Children = append(view.Children, kids...)
				}
			}
			if view.Siblings == nil {
				view.Siblings = []domain.EntityID{}
			}
			if view.Partners == nil {
				view.Partners = []domain.EntityID{}
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}
}
