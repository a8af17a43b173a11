package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/devserver"
	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

// newServeCommand creates the "serve" subcommand exposing both job triggers on a local HTTP API.
func newServeCommand(opts *Options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the training and inference API locally against the deployed environment",
		Long: "Serve the /start_training, /training_schedule, /start_batch_inference and /inference_schedule " +
			"resources of the deployed API on a local address. POST /schedule/{kind} simulates a schedule tick.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			pc, err := loadPlatformFromCmd(opts, cmd)
			if err != nil {
				return err
			}
			fromEnv, _ := cmd.Flags().GetBool("from-env")

			var routes []devserver.Route
			for _, kind := range []trigger.Kind{trigger.Training, trigger.Inference} {
				t, err := newJobTrigger(cmd.Context(), pc, logger, kind, fromEnv)
				if err != nil {
					return err
				}
				routes = append(routes, devserver.Route{Kind: kind, Handler: t})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return devserver.New(logger, routes...).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().Bool("from-env", false, "Read the trigger configuration from the process environment instead of the development stack")
	addVarsFlags(cmd)

	return cmd
}
