package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"kittyledger/internal/core"
	"kittyledger/pkg/domain"
)

// Scenario is a YAML script of ledger calls with their expected outcomes.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one call. ExpectError names the rejection the call must fail with
// (e.g. InsufficientStake); empty means the call must succeed. ExpectID,
// when set, is the id Create or Breed must return.
type Step struct {
	As          uint64   `yaml:"as"`
	Op          string   `yaml:"op"`
	To          uint64   `yaml:"to,omitempty"`
	IDs         []uint32 `yaml:"ids,omitempty"`
	ExpectError string   `yaml:"expect_error,omitempty"`
	ExpectID    *uint32  `yaml:"expect_id,omitempty"`
}

var rejectionNames = map[string]error{
	"CountOverflow":     domain.ErrCountOverflow,
	"EntityNotFound":    domain.ErrEntityNotFound,
	"NotOwner":          domain.ErrNotOwner,
	"SelfTransfer":      domain.ErrSelfTransfer,
	"IdenticalParents":  domain.ErrIdenticalParents,
	"InsufficientStake": domain.ErrInsufficientStake,
	"BadOrigin":         domain.ErrBadOrigin,
}

// LoadScenario decodes a scenario, rejecting unknown fields.
func LoadScenario(r io.Reader) (Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	for i, step := range sc.Steps {
		if step.ExpectError != "" {
			if _, ok := rejectionNames[step.ExpectError]; !ok {
				return Scenario{}, fmt.Errorf("step %d: unknown expect_error %q", i+1, step.ExpectError)
			}
		}
	}
	return sc, nil
}

// stepRunner abstracts the ledger for replay so the step logic stays independent of the CLI wiring.
type stepRunner interface {
	Create(ctx context.Context, origin domain.Origin) (domain.EntityID, error)
	Transfer(ctx context.Context, origin domain.Origin, to domain.AccountID, id domain.EntityID) error
	Breed(ctx context.Context, origin domain.Origin, a, b domain.EntityID) (domain.EntityID, error)
}

var _ stepRunner = (*core.Service)(nil)

func runStep(ctx context.Context, svc stepRunner, step Step) (string, error) {
	origin := domain.Signed(domain.AccountID(step.As))
	switch strings.ToLower(step.Op) {
	case "create":
		id, err := svc.Create(ctx, origin)
		if err != nil {
			return "", err
		}
		return checkID(id, step)
	case "transfer":
		if len(step.IDs) != 1 {
			return "", fmt.Errorf("transfer needs exactly one id, got %d", len(step.IDs))
		}
		id := domain.EntityID(step.IDs[0])
		if err := svc.Transfer(ctx, origin, domain.AccountID(step.To), id); err != nil {
			return "", err
		}
		return fmt.Sprintf("transferred %d to %d", id, step.To), nil
	case "breed":
		if len(step.IDs) != 2 {
			return "", fmt.Errorf("breed needs exactly two ids, got %d", len(step.IDs))
		}
		id, err := svc.Breed(ctx, origin, domain.EntityID(step.IDs[0]), domain.EntityID(step.IDs[1]))
		if err != nil {
			return "", err
		}
		return checkID(id, step)
	default:
		return "", fmt.Errorf("unknown op %q", step.Op)
	}
}

var errUnexpectedID = errors.New("unexpected kitty id")

func checkID(id domain.EntityID, step Step) (string, error) {
	if step.ExpectID != nil && uint32(id) != *step.ExpectID {
		return "", fmt.Errorf("%w: got %d, want %d", errUnexpectedID, id, *step.ExpectID)
	}
	return fmt.Sprintf("%s -> %d", step.Op, id), nil
}

// Replay runs every step and stops at the first step whose outcome differs
// from its expectation. Each step sees a fresh randomness block.
func Replay(ctx context.Context, svc stepRunner, sc Scenario, advance func(), out io.Writer) error {
	for i, step := range sc.Steps {
		if advance != nil {
			advance()
		}
		summary, err := runStep(ctx, svc, step)
		switch {
		case step.ExpectError == "" && err != nil:
			return fmt.Errorf("step %d (%s as %d): %w", i+1, step.Op, step.As, err)
		case step.ExpectError != "" && err == nil:
			return fmt.Errorf("step %d (%s as %d): expected %s, call succeeded", i+1, step.Op, step.As, step.ExpectError)
		case step.ExpectError != "" && !errors.Is(err, rejectionNames[step.ExpectError]):
			return fmt.Errorf("step %d (%s as %d): expected %s, got %w", i+1, step.Op, step.As, step.ExpectError, err)
		case step.ExpectError != "":
			fmt.Fprintf(out, "step %d: %s as %d rejected with %s\n", i+1, step.Op, step.As, step.ExpectError)
		default:
			fmt.Fprintf(out, "step %d: %s as %d: %s\n", i+1, step.Op, step.As, summary)
		}
	}
	return nil
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Run a YAML scenario and check every expected outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.service()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			sc, err := LoadScenario(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if sc.Name != "" {
				fmt.Fprintf(out, "scenario %s\n", sc.Name)
			}
			if err := Replay(cmd.Context(), a.svc, sc, func() { a.chain.Advance() }, out); err != nil {
				return err
			}
			for _, event := range a.recorder.Events() {
				fmt.Fprintf(out, "event %s\n", event)
			}
			return nil
		},
	}
}
