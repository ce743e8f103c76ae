package cli

import (
	"fmt"
	"log/slog"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"panostitch/internal/config"
	"panostitch/internal/logging"
	"panostitch/internal/pipeline"
	"panostitch/internal/rawconv"
	"panostitch/internal/server"
	"panostitch/internal/storage"
	"panostitch/internal/watch"
)

// Version is the release reported by the version command.
var Version = "0.1.0-dev"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe pipelineClient) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "panostitch",
		Short: "panostitch stitches left-to-right photo sequences into cylindrical panoramas",
		Long: `panostitch projects each photo onto a cylinder, finds Harris corners, describes them
with orientation histograms, aligns neighbours with RANSAC and blends the result into one
perspective-corrected panorama.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStitchCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newTokenCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func focalArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

func newStitchCmd(root *Root) *cobra.Command {
	var (
		output   string
		scale    float64
		seed     int64
		workers  int
		debugDir string
		stages   = make(map[string]*string, len(pipeline.StageKeys))
	)

	cmd := &cobra.Command{
		Use:   "stitch <image-dir|archive.7z> [focal-file]",
		Short: "Stitch a left-to-right image sequence into a panorama",
		Long: `Stitch the images of a directory (or a .7z archive), taken in filename order from left
to right, into one panorama. The focal length file holds one focal length in pixels per line,
in image order; when omitted, focal.txt next to the images is used.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{"source": "cli"}
			if f := focalArg(args); f != "" {
				opts[pipeline.OptFocalFile] = f
			}
			if cmd.Flags().Changed("scale") {
				opts[pipeline.OptScale] = scale
			}
			if cmd.Flags().Changed("seed") {
				opts[pipeline.OptSeed] = seed
			}
			if workers > 0 {
				opts[pipeline.OptWorkers] = workers
			}
			if debugDir != "" {
				opts[pipeline.OptDebugDir] = debugDir
			}
			for _, key := range pipeline.StageKeys {
				if v := *stages[key]; v != "" {
					opts[key] = v
				}
			}

			job := pipeline.Job{
				ID:        newID(),
				Type:      pipeline.JobStitch,
				InputPath: args[0],
				Output:    output,
				Options:   opts,
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			root.printf("panorama written to %v (%vx%v)\n", res.Meta["output"], res.Meta["width"], res.Meta["height"])
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", root.cfg.Paths.DefaultOutput, "panorama output path (.png, .jpg, .tif, .bmp)")
	cmd.Flags().Float64Var(&scale, "scale", root.cfg.Stitch.ScaleRatio, "scale ratio applied to inputs, clamped to [0.1, 1.0]")
	cmd.Flags().Int64Var(&seed, "seed", root.cfg.Stitch.Seed, "seed for RANSAC sampling")
	cmd.Flags().IntVar(&workers, "workers", 0, "images processed in parallel (0 uses config)")
	cmd.Flags().StringVar(&debugDir, "debug-dir", "", "write warp/feature/matching/blend debug images here")
	for _, key := range pipeline.StageKeys {
		stages[key] = cmd.Flags().String(key, "", key+" strategy name (empty uses config)")
	}
	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var scale float64

	cmd := &cobra.Command{
		Use:   "scan <image-dir|archive.7z> [focal-file]",
		Short: "List images with sizes, focal lengths and projected widths",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{"source": "cli"}
			if f := focalArg(args); f != "" {
				opts[pipeline.OptFocalFile] = f
			}
			if cmd.Flags().Changed("scale") {
				opts[pipeline.OptScale] = scale
			}
			job := pipeline.Job{ID: newID(), Type: pipeline.JobScan, InputPath: args[0], Options: opts}
			res, err := root.enqueueAndWait(cmd.Context(), job)

			if images, ok := res.Meta["images"].([]storage.ImageMetadata); ok {
				tw := tabwriter.NewWriter(root.stdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "IMAGE\tSIZE\tFOCAL\tWARPED")
				for _, img := range images {
					fmt.Fprintf(tw, "%s\t%dx%d\t%g\t%d\n", img.FilePath, img.Width, img.Height, img.FocalLength, img.WarpedWidth)
				}
				tw.Flush()
			}
			return err
		},
	}
	cmd.Flags().Float64Var(&scale, "scale", root.cfg.Stitch.ScaleRatio, "scale ratio applied before measuring")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr, grpcAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the gRPC endpoint",
		Long: `Start an HTTP server (health, jobs, job submission, SSE and WebSocket result streams)
and a gRPC server (standard health service plus panostitch.v1.Jobs).

Examples:
  panostitch serve --addr :8080 --grpc-addr :50051`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *root.cfg
			cfg.Server.Addr = addr
			cfg.Server.GRPCAddr = grpcAddr

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			root.log.Info("server ready",
				"addr", addr,
				"grpc_addr", grpcAddr,
				"endpoints", []string{"/healthz", "/jobs", "/jobs/{id}", "/stream", "/ws"},
			)
			return root.serveFn(ctx, &cfg, root.store, root.pipeline, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC listen address")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		focal    string
		output   string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Re-stitch a directory whenever new images arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := watch.New(args[0], watch.Options{
				FocalFile: focal,
				Output:    output,
				Debounce:  debounce,
			}, root.pipeline, root.log)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&focal, "focal-file", root.cfg.Watch.FocalFile, "focal length file name inside the watched directory")
	cmd.Flags().StringVarP(&output, "output", "o", root.cfg.Watch.Output, "panorama output path (outside the watched directory)")
	cmd.Flags().DurationVar(&debounce, "debounce", root.cfg.Watch.Debounce.Duration, "quiet period before re-stitching")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("job store is not available")
			}
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(root.stdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCREATED\tINPUT\tERROR")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.JobType, rec.Status, rec.CreatedAt.Format(time.DateTime), rec.InputPath, rec.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	return cmd
}

func newTokenCmd(root *Root) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for POST /jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.IssueToken(root.cfg.Server.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			root.printf("%s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "panostitch-cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.printf("panostitch %s\n", Version)
			root.printf("Built with Go %s\n", runtime.Version())
			magick := rawconv.Version()
			logging.LogToolStatus(root.log, "imagemagick", magick != "", magick, nil)
			if magick != "" {
				root.printf("RAW decoding: %s\n", magick)
			}
		},
	}
}
