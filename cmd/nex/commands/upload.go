package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/ixgest/upload"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/objstore"
	"github.com/teranos/nex/sym"
)

// UploadCmd bulk-loads a directory into the source bucket
var UploadCmd = &cobra.Command{
	Use:   "upload <dir>",
	Short: sym.UP + " Upload every file in a directory to the source bucket",
	Long: sym.UP + ` upload — bulk-load a corpus

Each regular file in <dir> is uploaded under its base name, in name order.
Uploads are paced so a running 'nex serve' is not flooded with triggers.

Pacing strategies:
  fixed         Wait --delay between uploads (default 100ms)
  token-bucket  Allow --rate uploads per second, bursting up to --burst
  none          Upload as fast as possible

Examples:
  nex upload ./tech
  nex upload ./tech --pacing token-bucket --rate 20`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	UploadCmd.Flags().String("pacing", "", "Pacing strategy: fixed, token-bucket, none (default from config)")
	UploadCmd.Flags().Int("delay", 0, "Delay between uploads in milliseconds (fixed pacing)")
	UploadCmd.Flags().Float64("rate", 0, "Uploads per second (token-bucket pacing)")
	UploadCmd.Flags().Int("burst", 0, "Burst size (token-bucket pacing)")
	UploadCmd.Flags().String("bucket", "", "Destination bucket (default: source bucket)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	upCfg := cfg.Upload
	if cmd.Flags().Changed("pacing") {
		upCfg.Pacing, _ = cmd.Flags().GetString("pacing")
	}
	if cmd.Flags().Changed("delay") {
		upCfg.DelayMS, _ = cmd.Flags().GetInt("delay")
	}
	if cmd.Flags().Changed("rate") {
		upCfg.RatePerSecond, _ = cmd.Flags().GetFloat64("rate")
	}
	if cmd.Flags().Changed("burst") {
		upCfg.Burst, _ = cmd.Flags().GetInt("burst")
	}
	pacer, err := upload.NewPacer(upCfg)
	if err != nil {
		return err
	}

	bucket, _ := cmd.Flags().GetString("bucket")
	if bucket == "" {
		bucket = cfg.Buckets.Source
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	objects, err := objstore.Open(ctx, cfg.ObjectStore)
	if err != nil {
		return errors.Wrap(err, "failed to open object store")
	}

	loader := &upload.Loader{
		Store:  objects,
		Bucket: bucket,
		Pacer:  pacer,
		Logger: logger.Logger,
	}
	report, err := loader.Run(ctx, args[0])
	pterm.Info.Printfln("Uploaded %d file(s) to %s, skipped %d", len(report.Uploaded), bucket, len(report.Skipped))
	return err
}
