package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/paramstore"
	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

// newJobCommand creates the "training" or "inference" subtree.
func newJobCommand(opts *Options, kindName string) *cobra.Command {
	kind, err := trigger.KindByName(kindName)
	if err != nil {
		panic(err)
	}
	return newGroupCommand(kind.Name, fmt.Sprintf("Start and schedule %s jobs", kind.Noun),
		newJobStartCommand(opts, kind),
		newJobScheduleCommand(opts, kind),
	)
}

func addJobParamFlags(cmd *cobra.Command, pairs *[]string, file *string) {
	cmd.Flags().StringArrayVarP(pairs, "param", "p", nil, "Job parameter passed to the container environment (key=value, repeatable)")
	cmd.Flags().StringVar(file, "params-file", "", "JSON file with job parameters")
	cmd.Flags().Bool("from-env", false, "Read the trigger configuration from the process environment instead of the development stack")
}

func newJobStartCommand(opts *Options, kind trigger.Kind) *cobra.Command {
	var (
		tag    string
		pairs  []string
		params string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: fmt.Sprintf("Start a %s job now", kind.Noun),
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			jobParams, err := parseJobParams(params, pairs)
			if err != nil {
				return err
			}
			pc, err := loadPlatformFromCmd(opts, cmd)
			if err != nil {
				return err
			}
			fromEnv, _ := cmd.Flags().GetBool("from-env")
			t, err := newJobTrigger(cmd.Context(), pc, logger, kind, fromEnv)
			if err != nil {
				return err
			}

			res, err := t.Start(cmd.Context(), tag, jobParams)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "Image tag to run (latest pushed image when empty)")
	addJobParamFlags(cmd, &pairs, &params)
	addVarsFlags(cmd)

	return cmd
}

func newJobScheduleCommand(opts *Options, kind trigger.Kind) *cobra.Command {
	var (
		expr   string
		pairs  []string
		params string
		next   int
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: fmt.Sprintf("Create, show or delete the recurring %s schedule", kind.Noun),
		Long: fmt.Sprintf("Create the %s rule with --cron (six-field EventBridge cron, UTC), "+
			"inspect the stored parameters with --show or remove the rule with --delete. "+
			"--next prints upcoming fire times of --cron without contacting AWS.", kind.RuleName),
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			out := cmd.OutOrStdout()

			del, _ := cmd.Flags().GetBool("delete")
			show, _ := cmd.Flags().GetBool("show")

			if next > 0 {
				c, err := trigger.ParseCron(expr)
				if err != nil {
					return err
				}
				for _, at := range c.Next(time.Now().UTC(), next) {
					fmt.Fprintln(out, at.Format(time.RFC3339))
				}
				return nil
			}
			if del && show || (del || show) && expr != "" {
				return fmt.Errorf("use exactly one of --cron, --show or --delete")
			}
			if !del && !show && expr == "" {
				return fmt.Errorf("--cron is required to create a schedule")
			}

			jobParams, err := parseJobParams(params, pairs)
			if err != nil {
				return err
			}
			pc, err := loadPlatformFromCmd(opts, cmd)
			if err != nil {
				return err
			}
			fromEnv, _ := cmd.Flags().GetBool("from-env")
			t, err := newJobTrigger(cmd.Context(), pc, logger, kind, fromEnv)
			if err != nil {
				return err
			}

			switch {
			case show:
				stored, err := t.Params.Get(cmd.Context())
				if errors.Is(err, paramstore.ErrNotFound) {
					return fmt.Errorf("no %s schedule is configured", kind.Noun)
				}
				if err != nil {
					return err
				}
				return printJSON(out, stored)
			case del:
				msg, err := t.DeleteSchedule(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, msg)
				return nil
			default:
				c, err := trigger.ParseCron(expr)
				if err != nil {
					return err
				}
				msg, err := t.CreateSchedule(cmd.Context(), c, jobParams)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, msg)
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&expr, "cron", "", "Six-field cron expression, e.g. \"0 6 ? * MON-FRI *\"")
	cmd.Flags().Bool("show", false, "Print the parameters of the current schedule")
	cmd.Flags().Bool("delete", false, "Delete the schedule rule and its parameters")
	cmd.Flags().IntVar(&next, "next", 0, "Print the next N fire times of --cron and exit")
	addJobParamFlags(cmd, &pairs, &params)
	addVarsFlags(cmd)

	return cmd
}
