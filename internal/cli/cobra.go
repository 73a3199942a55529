package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"panokit/internal/config"
	"panokit/internal/fsutil"
	"panokit/internal/pipeline"
	"panokit/internal/pto"
	"panokit/internal/roi"
	"panokit/internal/storage"
	"panokit/internal/tasks"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "panokit",
		Short: "panokit renders panoramas from PTO projects",
		Long: `panokit reads PTO panorama projects, remaps every source image onto the
output canvas and writes blended, layered and exposure-fused results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newStitchCmd(root))
	rootCmd.AddCommand(newInfoCmd(root))
	rootCmd.AddCommand(newROICmd(root))
	rootCmd.AddCommand(newStacksCmd(root))
	rootCmd.AddCommand(newFindPointsCmd(root))
	rootCmd.AddCommand(newProjectCmd(root))
	rootCmd.AddCommand(newLensCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newGRPCCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newStitchCmd(root *Root) *cobra.Command {
	var (
		output       string
		blend        string
		format       string
		interpolator string
		compression  string
		jpegQuality  int
		imageMagick  bool
	)

	cmd := &cobra.Command{
		Use:   "stitch <project.pto>",
		Short: "Render the outputs enabled in a project",
		Long: `Render every output the project enables (blended panorama, layers,
exposure layers, stacks, HDR) into files named after the output prefix.

Examples:
  panokit stitch pano.pto -o out/pano
  panokit stitch pano.pto --blend hardseam --format JPEG --jpeg-quality 85`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("stitch"),
				Type:      pipeline.JobStitch,
				InputPath: args[0],
				Output:    output,
				Options: map[string]any{
					"blend":        blend,
					"format":       format,
					"interpolator": interpolator,
					"compression":  compression,
					"jpegQuality":  jpegQuality,
					"imagemagick":  imageMagick,
					"source":       "cli",
				},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			arts, _ := res.Meta["artifacts"].([]map[string]any)
			for _, a := range arts {
				size, _ := a["size"].(int64)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", a["path"], a["rect"], humanize.Bytes(uint64(size)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output prefix (default: project name next to the project)")
	cmd.Flags().StringVar(&blend, "blend", "", "blend mode override (weighted|hardseam|seamorder)")
	cmd.Flags().StringVar(&format, "format", "", "file format override (TIFF|TIFF_m|TIFF_multilayer|JPEG|PNG|HDR|HDR_m)")
	cmd.Flags().StringVar(&interpolator, "interpolator", "", "interpolator override (nearest|bilinear|cubic|spline16|spline36|spline64|sinc256|sinc1024)")
	cmd.Flags().StringVar(&compression, "compression", "", "TIFF compression override (NONE|LZW|DEFLATE|PACKBITS)")
	cmd.Flags().IntVar(&jpegQuality, "jpeg-quality", 0, "JPEG quality override (1-100)")
	cmd.Flags().BoolVar(&imageMagick, "imagemagick", false, "decode sources and write multi-page TIFF through ImageMagick")

	return cmd
}

func newInfoCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "info <project.pto>",
		Short: "Summarise a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
				ID:        newID("info"),
				Type:      pipeline.JobInfo,
				InputPath: args[0],
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Meta)
		},
	}
}

func newROICmd(root *Root) *cobra.Command {
	var (
		output string
		stacks bool
	)
	cmd := &cobra.Command{
		Use:   "roi <project.pto>",
		Short: "Compute the largest crop covered by every image",
		Long: `Compute the largest axis-aligned rectangle of the canvas covered by all
active images (or, with --stacks, by at least one member of every stack).
With --output the project is written back with the crop applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
				ID:        newID("roi"),
				Type:      pipeline.JobOptimalROI,
				InputPath: args[0],
				Output:    output,
				Options:   map[string]any{"stacks": stacks},
			})
			if err != nil {
				return err
			}
			if empty, _ := res.Meta["empty"].(bool); empty {
				return fmt.Errorf("no region is covered by every image")
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Meta["roi"])
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the cropped project to this file")
	cmd.Flags().BoolVar(&stacks, "stacks", false, "treat each exposure stack as one image")
	return cmd
}

func newStacksCmd(root *Root) *cobra.Command {
	var tolerance float64
	cmd := &cobra.Command{
		Use:   "stacks <project.pto>",
		Short: "List exposure layers and stacks of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := tasks.LoadProject(args[0], root.log)
			if err != nil {
				return err
			}
			if tolerance <= 0 {
				tolerance = root.cfg.Stacks.EVTolerance
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"exposureLayers": roi.ExposureLayers(p, tolerance),
				"stacks":         roi.HDRStacks(p, tolerance),
				"possibleStacks": roi.HasPossibleStacks(p, tolerance),
			})
		},
	}
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "EV tolerance for grouping exposures (default from config)")
	return cmd
}

func newFindPointsCmd(root *Root) *cobra.Command {
	var (
		output string
		rect   []int
	)
	cmd := &cobra.Command{
		Use:   "findpoints <project.pto>",
		Short: "Find control points between overlapping images",
		Long: `Search the given canvas rectangle (default: the project ROI) for interest
points, match them between overlapping images and print the validated
control points. With --output they are added to the project and written.

Examples:
  panokit findpoints pano.pto --rect 100,0,900,500 -o pano-cp.pto`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{}
			if len(rect) > 0 {
				if len(rect) != 4 {
					return fmt.Errorf("--rect takes minX,minY,maxX,maxY")
				}
				opts["rect"] = rect
			}
			res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
				ID:        newID("cp"),
				Type:      pipeline.JobFindPoints,
				InputPath: args[0],
				Output:    output,
				Options:   opts,
			})
			if err != nil {
				return err
			}
			points, _ := res.Meta["points"].([]map[string]any)
			for _, pt := range points {
				fmt.Fprintf(cmd.OutOrStdout(), "%v %.2f,%.2f -> %v %.2f,%.2f (%.2f)\n",
					pt["image1"], pt["x1"], pt["y1"], pt["image2"], pt["x2"], pt["y2"], pt["error"])
			}
			root.log.Info("control points found", "count", len(points), "rect", res.Meta["rect"])
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the project with the new points to this file")
	cmd.Flags().IntSliceVar(&rect, "rect", nil, "canvas rectangle to search (minX,minY,maxX,maxY)")
	return cmd
}

func newProjectCmd(root *Root) *cobra.Command {
	var (
		output string
		hfov   float64
		noLens bool
	)
	cmd := &cobra.Command{
		Use:   "new <image|directory>...",
		Short: "Create a project from photographs",
		Long: `Create an equirectangular project with one image per file. Focal length,
crop factor, lens and exposure come from EXIF; known lenses get their
calibration from the lens database and bracketed series are linked into
stacks.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			images, err := expandImages(args)
			if err != nil {
				return err
			}
			base, err := tasks.BaseOptions(root.cfg.Stitch)
			if err != nil {
				return err
			}
			req := tasks.NewProjectRequest{
				Images:      images,
				Base:        base,
				EVTolerance: root.cfg.Stacks.EVTolerance,
				DefaultHFOV: hfov,
				Logger:      root.log,
			}
			if root.store != nil && !noLens {
				req.Lenses = root.store
			}
			p, err := tasks.NewProjectFromImages(req)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Join(filepath.Dir(images[0]), "panorama.pto")
			}
			if err := pto.WriteFile(output, p); err != nil {
				return err
			}
			o := p.Options()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d images, %dx%d\n", output, p.NumImages(), o.Width, o.Height)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "project file to write (default: panorama.pto next to the images)")
	cmd.Flags().Float64Var(&hfov, "hfov", 50, "field of view for images without a focal length")
	cmd.Flags().BoolVar(&noLens, "no-lens-db", false, "do not apply lens database calibrations")
	return cmd
}

// expandImages replaces directory arguments by the images they contain.
func expandImages(args []string) ([]string, error) {
	var images []string
	for _, a := range args {
		st, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			images = append(images, a)
			continue
		}
		found, err := fsutil.ListImages(a)
		if err != nil {
			return nil, err
		}
		images = append(images, found...)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images found in %v", args)
	}
	return images, nil
}

func newLensCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lens",
		Short: "Manage the lens calibration database",
	}

	importCmd := &cobra.Command{
		Use:   "import <lenses.yaml>",
		Short: "Import lens calibrations from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.requireStore(); err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := root.store.ImportLenses(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d calibrations\n", n)
			return nil
		},
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup <lens> <focal-mm>",
		Short: "Show the calibration used for a lens at a focal length",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.requireStore(); err != nil {
				return err
			}
			focal, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid focal length %q", args[1])
			}
			c, err := root.store.Lookup(args[0], focal)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "lens: %s\nfocal: %g mm\n", c.Lens, c.FocalLength)
			if c.HFOV > 0 {
				fmt.Fprintf(w, "hfov: %g\n", c.HFOV)
			}
			fmt.Fprintf(w, "distortion: a=%g b=%g c=%g\n", c.DistA, c.DistB, c.DistC)
			if c.HasVignetting {
				fmt.Fprintf(w, "vignetting: %g %g %g %g\n", c.VigA, c.VigB, c.VigC, c.VigD)
			}
			if c.HasTCA {
				fmt.Fprintf(w, "tca red: %g %g %g %g\ntca blue: %g %g %g %g\n",
					c.RedA, c.RedB, c.RedC, c.RedD, c.BlueA, c.BlueB, c.BlueC, c.BlueD)
			}
			return nil
		},
	}

	var (
		lens   string
		output string
	)
	applyCmd := &cobra.Command{
		Use:   "apply <project.pto>",
		Short: "Write database calibrations into a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.requireStore(); err != nil {
				return err
			}
			p, err := pto.ReadFile(args[0], pto.ReadOptions{Logger: root.log})
			if err != nil {
				return err
			}
			p.AttachProjector(roi.Projector{})
			res, err := tasks.ApplyLensCalibration(p, root.store, lens, root.log)
			if err != nil {
				return err
			}
			if output == "" {
				output = args[0]
			}
			if err := pto.WriteFile(output, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d images", len(res.Updated))
			if len(res.Missing) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", no calibration for %v", res.Missing)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	applyCmd.Flags().StringVar(&lens, "lens", "", "only update images of this lens")
	applyCmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of the project")

	cmd.AddCommand(importCmd, lookupCmd, applyCmd)
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		output   string
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <project.pto>",
		Short: "Re-render a project every time it is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := &tasks.ProjectWatcher{
				Path:     args[0],
				Debounce: debounce,
				Logger:   root.log,
				OnChange: func(ctx context.Context, path string) {
					job := pipeline.Job{
						ID:        newID("watch"),
						Type:      pipeline.JobStitch,
						InputPath: path,
						Output:    output,
						Options:   map[string]any{"source": "watch"},
					}
					if _, err := root.enqueueAndWait(ctx, job); err != nil {
						root.log.Error("re-render failed", "project", path, "error", err)
						return
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rendered %s\n", path)
				},
			}
			root.log.Info("watching project", "project", args[0], "debounce", debounce)
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output prefix")
	cmd.Flags().DurationVar(&debounce, "debounce", tasks.DefaultDebounce, "quiet period before re-rendering")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start an HTTP server exposing project summaries, job submission, the run
history and a websocket stream of finished jobs.

Examples:
  panokit serve --addr :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server",
				"addr", addr,
				"endpoints", []string{"/api/health", "/api/project", "/api/jobs", "/api/stream", "/ws"},
			)
			return root.serveFn(cmd.Context(), addr, root.store, root.pipeline, root.cfg, root.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.HTTPAddr, "server address (host:port)")
	return cmd
}

func newGRPCCmd(root *Root) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "grpc",
		Short: "Start the gRPC Stitcher service",
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting grpc server", "addr", addr)
			return root.grpcFn(cmd.Context(), addr, root.store, root.pipeline, root.cfg, root.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.GRPCAddr, "listen address (host:port)")
	return cmd
}
