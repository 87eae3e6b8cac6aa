package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/rastermask/internal/mask"
	"github.com/kiesman99/rastermask/pkg/geotiff"
	"github.com/kiesman99/rastermask/pkg/raster"
)

// version is reported by the serve subcommand's health endpoint.
const version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rastermask",
	Short: "Threshold huge rasters into binary masks, block by block",
	Long: `rastermask converts a large single-band GeoTIFF into a uint8 mask raster
(1 where the value is at or above the threshold, 0 otherwise) without ever
loading the raster into memory: it streams over the source's native blocks.

The threshold is given as a fraction; the native threshold value is inferred
from a small sample, so inputs stored as 0-1 floats, 0-100 percentages, or
0-10000 fixed-point integers all work with the same fraction.

Examples:
  # 40% threshold mask
  rastermask --input coverage.tif --output mask_40.tif

  # 60% threshold, output decimated by 4
  rastermask -i coverage.tif -o mask_60_ov4.tif --threshold 0.6 --downsample 4

  # Deflate-compressed output tiles
  rastermask -i coverage.tif -o mask.tif --compress deflate

  # Start HTTP server
  rastermask serve --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("input") && !cmd.Flags().Changed("output") && viper.GetString("input") == "" {
			return cmd.Help()
		}
		return runMask(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rastermask.yaml)")

	rootCmd.Flags().StringP("input", "i", "", "input GeoTIFF path (required)")
	rootCmd.Flags().StringP("output", "o", "", "output mask GeoTIFF path (required)")
	rootCmd.Flags().Float64P("threshold", "t", mask.DefaultFraction, "threshold as a fraction (0.4 = 40%)")
	rootCmd.Flags().IntP("downsample", "d", 0, "integer downsample factor for the output (0 = full resolution)")
	rootCmd.Flags().String("compress", "lzw", "output tile compression (lzw|deflate|none)")

	viper.BindPFlag("input", rootCmd.Flags().Lookup("input"))
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("threshold", rootCmd.Flags().Lookup("threshold"))
	viper.BindPFlag("downsample", rootCmd.Flags().Lookup("downsample"))
	viper.BindPFlag("compress", rootCmd.Flags().Lookup("compress"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".rastermask" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rastermask")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runMask(cmd *cobra.Command, args []string) error {
	input := viper.GetString("input")
	output := viper.GetString("output")

	if input == "" {
		return fmt.Errorf("input path is required (use --input)")
	}
	if output == "" {
		return fmt.Errorf("output path is required (use --output)")
	}

	if _, err := os.Stat(input); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Input not found:", input)
		os.Exit(2)
	}

	compression, err := raster.ParseCompression(viper.GetString("compress"))
	if err != nil {
		return err
	}

	opts := mask.Options{
		Fraction:    viper.GetFloat64("threshold"),
		Downsample:  viper.GetInt("downsample"),
		Compression: compression,
	}
	if opts.Fraction <= 0 {
		return fmt.Errorf("threshold must be positive, got %g", opts.Fraction)
	}
	if opts.Downsample < 0 {
		return fmt.Errorf("downsample must not be negative, got %d", opts.Downsample)
	}

	src, err := geotiff.Open(input)
	if err != nil {
		return fmt.Errorf("opening %s: %v", input, err)
	}
	defer src.Close()

	_, err = mask.Run(src, func(p raster.Profile) (raster.Writer, error) {
		return geotiff.Create(output, p)
	}, opts)
	if err != nil {
		// Don't leave a partially written mask behind.
		os.Remove(output)
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "[OK] Mask written to:", output)
	return nil
}
