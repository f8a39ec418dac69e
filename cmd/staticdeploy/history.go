package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/staticdeploy/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/staticdeploy/internal/adapter/driving/http"
	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

type historyFlags struct {
	limit  int
	all    bool
	asJSON bool
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	var hf historyFlags

	cmd := &cobra.Command{
		Use:   "history [deployment-id]",
		Short: "List recorded deployments, or show one with its status events",
		Long: `history reads the deployment ledger. Without an argument it lists the
newest deployments of the configured environment (all environments with
--all). With a deployment id it prints that deployment and every status
transition it went through.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if hf.limit < 1 {
				return fmt.Errorf("%w: --limit must be positive", model.ErrConfiguration)
			}

			db, err := sqliteadapter.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open deployment ledger: %w", err)
			}
			defer db.Close()
			repo := sqliteadapter.NewDeploymentRepo(db)
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				return showDeployment(cmd, repo, args[0], hf.asJSON, out)
			}

			env := cfg.Environment
			if hf.all {
				env = ""
			}
			deployments, err := repo.List(cmd.Context(), env, hf.limit)
			if err != nil {
				return err
			}
			if hf.asJSON {
				resp := make([]httphandler.DeploymentResponse, 0, len(deployments))
				for _, d := range deployments {
					resp = append(resp, httphandler.ToDeploymentResponse(d))
				}
				return writeJSON(out, resp)
			}
			return writeTable(out, deployments)
		},
	}

	cmd.Flags().IntVar(&hf.limit, "limit", sqliteadapter.DefaultListLimit, "maximum number of deployments to list")
	cmd.Flags().BoolVar(&hf.all, "all", false, "list every environment")
	cmd.Flags().BoolVar(&hf.asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func showDeployment(cmd *cobra.Command, repo *sqliteadapter.DeploymentRepo, id string, asJSON bool, out io.Writer) error {
	d, err := repo.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("deployment %s: %w", id, sqliteadapter.ErrDeploymentNotFound)
	}
	events, err := repo.Events(cmd.Context(), id)
	if err != nil {
		return err
	}

	if asJSON {
		resp := httphandler.ToDeploymentResponse(*d)
		resp.Events = make([]httphandler.EventResponse, 0, len(events))
		for _, e := range events {
			resp.Events = append(resp.Events, httphandler.ToEventResponse(e))
		}
		return writeJSON(out, resp)
	}

	if err := writeTable(out, []model.Deployment{*d}); err != nil {
		return err
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tSTATUS\tDESCRIPTION")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.At.UTC().Format(time.RFC3339), e.Status, e.Description)
	}
	return tw.Flush()
}

func writeTable(w io.Writer, deployments []model.Deployment) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENVIRONMENT\tTYPE\tREF\tCOMMIT\tSTATUS\tCREATED")
	for _, d := range deployments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Environment, d.DeployType, d.Ref.RefLabel, d.Ref.ShortSHA(), d.Status,
			d.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
