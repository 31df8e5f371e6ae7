package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parley-chat/parley/internal/acl"
)

// BackfillMode enumerates supported execution strategies.
type BackfillMode string

const (
	// BackfillModeDry previews the classification without applying grants.
	BackfillModeDry BackfillMode = "dry"
	// BackfillModeApply performs the backfill after confirmation.
	BackfillModeApply BackfillMode = "apply"
)

// MigrationRunner executes one backfill run. Satisfied by acl.Migrator.
type MigrationRunner interface {
	Run(ctx context.Context, req acl.MigrateRequest) (*acl.MigrateOutcome, error)
}

// BackfillOptions configures the backfill command execution.
type BackfillOptions struct {
	ResourceType string
	Mode         BackfillMode
	BatchSize    int
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// BackfillSummary captures the structured reporting outcome.
type BackfillSummary struct {
	ResourceType string              `json:"resourceType"`
	Mode         BackfillMode        `json:"mode"`
	Preview      *acl.MigrateOutcome `json:"preview,omitempty"`
	Applied      *acl.MigrateOutcome `json:"applied,omitempty"`
}

// BackfillCLI drives the permission backfill from the command line.
type BackfillCLI struct {
	runner MigrationRunner
}

// NewBackfillCLI constructs a new helper instance.
func NewBackfillCLI(runner MigrationRunner) *BackfillCLI {
	return &BackfillCLI{runner: runner}
}

// BackfillCommand executes the backfill workflow. Apply mode always previews
// first so the operator confirms against the actual resource counts.
func (c *BackfillCLI) BackfillCommand(ctx context.Context, opts BackfillOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = BackfillModeDry
	}
	mode := BackfillMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case BackfillModeDry, BackfillModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "acl backfill: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	resourceType := strings.TrimSpace(opts.ResourceType)
	if resourceType == "" {
		fmt.Fprintln(opts.Stderr, "acl backfill: --type is required")
		return 1
	}

	preview, err := c.runner.Run(ctx, acl.MigrateRequest{
		ResourceType: acl.ResourceType(resourceType),
		DryRun:       true,
	})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "acl backfill: scan %s: %v\n", resourceType, err)
		return 1
	}

	summary := BackfillSummary{ResourceType: resourceType, Mode: mode, Preview: preview}
	if mode == BackfillModeDry {
		if err := writeBackfillOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "acl backfill: %v\n", err)
			return 1
		}
		return 0
	}

	if preview.Summary != nil && preview.Summary.Total == 0 {
		if err := writeBackfillOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "acl backfill: %v\n", err)
			return 1
		}
		return 0
	}

	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultBackfillConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "acl backfill: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "acl backfill: cancelled by user")
		return 1
	}

	applied, err := c.runner.Run(ctx, acl.MigrateRequest{
		ResourceType: acl.ResourceType(resourceType),
		BatchSize:    opts.BatchSize,
	})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "acl backfill: apply failed: %v\n", err)
		return 1
	}
	summary.Applied = applied
	if err := writeBackfillOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "acl backfill: %v\n", err)
		return 1
	}
	if applied.Errors > 0 {
		return 10
	}
	return 0
}

func writeBackfillOutput(opts BackfillOptions, summary BackfillSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderBackfillHuman(opts.Stdout, summary)
	return nil
}

func renderBackfillHuman(out io.Writer, summary BackfillSummary) {
	fmt.Fprintf(out, "ACL backfill (%s) for %s\n", summary.Mode, summary.ResourceType)
	if summary.Preview != nil && summary.Preview.Summary != nil {
		s := summary.Preview.Summary
		fmt.Fprintf(out, "Uncovered: %d total, %d with global view access, %d private\n",
			s.Total, s.GlobalViewAccess, s.PrivateResources)
		if d := summary.Preview.Details; d != nil {
			if len(d.GlobalViewAccess) > 0 {
				fmt.Fprintf(out, "Global sample: %s\n", strings.Join(d.GlobalViewAccess, ", "))
			}
			if len(d.PrivateResources) > 0 {
				fmt.Fprintf(out, "Private sample: %s\n", strings.Join(d.PrivateResources, ", "))
			}
		}
	}
	if summary.Applied != nil {
		fmt.Fprintf(out, "Applied: %d migrated, %d errors, %d owner grants, %d public view grants\n",
			summary.Applied.Migrated, summary.Applied.Errors,
			summary.Applied.OwnerGrants, summary.Applied.PublicViewGrants)
	}
}

func defaultBackfillConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply ACL backfill? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	response := strings.TrimSpace(line)
	return strings.EqualFold(response, "YES"), nil
}
