package main

import (
	"fmt"
	"os"

	"github.com/arborml/nativeboot/internal/bundle"
	"github.com/arborml/nativeboot/internal/extract"
	"github.com/arborml/nativeboot/internal/loader"
	"github.com/arborml/nativeboot/internal/platform"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ort "github.com/yalue/onnxruntime_go"
)

func main() {
	var probeDir string
	var verbose bool

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "nativeboot"})

	rootCmd := &cobra.Command{
		Use:   "nativeboot",
		Short: "Extract and load the bundled native libraries for this platform",
		Long: `nativeboot detects the host operating system and CPU architecture,
extracts the matching pre-built shared libraries bundled into the
binary, and loads them into the process.

Bundled libraries live under lib/<os>/<arch>/ and are embedded when
building with -tags bundle_native.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if viper.GetBool("verbose") {
				logger.SetLevel(log.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&probeDir, "probe-dir", "",
		"Directory inspected for musl detection (default /proc/self/map_files)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	viper.SetEnvPrefix("NATIVEBOOT")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("probe_dir", rootCmd.PersistentFlags().Lookup("probe-dir"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(newPlatformCmd(logger))
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newLoadCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPlatformCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "platform",
		Short: "Print the detected operating system and architecture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			det := platform.Detector{
				MappedFilesDir: viper.GetString("probe_dir"),
				Logger:         logger,
			}
			osv, arch, err := det.Detect()
			if err != nil {
				return err
			}
			fmt.Printf("%s/%s\n", osv, arch)
			return nil
		},
	}
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <resource>",
		Short: "Extract a bundle resource to a temp file and print its path",
		Long: `Extract copies a resource out of the embedded bundle into a temporary
file and prints the file's path. The file is left in place for
inspection; remove it yourself when done.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := extract.TempFileFromResource(bundle.FS(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

func newLoadCmd(logger *log.Logger) *cobra.Command {
	var libs []string
	var verifyORT bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the bundled native libraries into this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer extract.CleanupExtracted()

			l := loader.New(bundle.FS(), loader.Config{
				Libraries:      libs,
				Logger:         logger,
				MappedFilesDir: viper.GetString("probe_dir"),
			})
			if err := l.Ensure(); err != nil {
				return fmt.Errorf("native load failed: %w", err)
			}
			logger.Info("native libraries loaded", "platform", l.Platform())

			if verifyORT {
				libPath := l.LibraryPath("onnxruntime")
				if libPath == "" {
					return fmt.Errorf("onnxruntime is not among the loaded libraries")
				}
				ort.SetSharedLibraryPath(libPath)
				if err := ort.InitializeEnvironment(); err != nil {
					return fmt.Errorf("cannot initialize ONNX Runtime: %w", err)
				}
				defer ort.DestroyEnvironment()
				logger.Info("ONNX Runtime environment initialized", "library", libPath)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&libs, "lib", nil,
		"Native library to load, in order (repeatable; default onnxruntime)")
	cmd.Flags().BoolVar(&verifyORT, "verify-ort", false,
		"Initialize the ONNX Runtime environment against the loaded library")
	return cmd
}
