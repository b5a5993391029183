package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/faceid/internal/engine"
)

var dedupe bool

var identifyCmd = &cobra.Command{
	Use:   "identify <image>...",
	Short: "Detect and identify every face in the given images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		destroy, err := engine.InitONNX(cfg.Vision.ONNXLibrary)
		if err != nil {
			return err
		}
		defer destroy()

		deps, closeDeps, err := galleryDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeDeps()

		stack, err := engine.Build(ctx, cfg, deps)
		if err != nil {
			return err
		}
		pipeline := stack.Pipeline()
		defer pipeline.Close()

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			results, err := pipeline.IdentifyBytes(ctx, data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			fmt.Printf("%s: %d face(s)\n", path, len(results))
			for i, r := range results {
				f := r.Face
				fmt.Printf("  #%d [%.0f,%.0f %.0f,%.0f] %s\n", i, f.LeftX, f.LeftY, f.RightX, f.RightY, r.Label.String())
				seen := make(map[string]bool)
				for _, p := range r.Predictions {
					if dedupe && seen[p.Label] {
						continue
					}
					seen[p.Label] = true
					fmt.Printf("      %-24s %.4f\n", p.Label, p.Distance)
				}
			}
		}
		return nil
	},
}

func init() {
	identifyCmd.Flags().BoolVar(&dedupe, "dedupe", false, "show only the closest prediction per label")
	rootCmd.AddCommand(identifyCmd)
}
