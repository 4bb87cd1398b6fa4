// vdevctl creates, inspects, and exercises file-backed virtual devices.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	vdev "github.com/blockvirt/go-vdev"
	"github.com/blockvirt/go-vdev/internal/config"
	"github.com/blockvirt/go-vdev/internal/logging"
	"github.com/blockvirt/go-vdev/internal/taskq"
	"github.com/blockvirt/go-vdev/volume"
)

var (
	verbose  bool
	jsonOut  bool
	directIO bool
)

var rootCmd = &cobra.Command{
	Use:   "vdevctl",
	Short: "File-backed virtual device tool",
	Long: `vdevctl creates and exercises file-backed virtual devices: a host
file stands in for a disk, and I/O runs through the same validation,
dispatch, and completion path a storage stack would use.`,
	Version: "0.1.0",
}

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a backing file of the given size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sizeStr, _ := cmd.Flags().GetString("size")
		size, err := parseSize(sizeStr)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", sizeStr, err)
		}

		f, err := os.OpenFile(args[0], os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		fmt.Printf("Created %s (%s)\n", args[0], formatSize(size))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Open a device and report its geometry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup()
		if err != nil {
			return err
		}
		defer env.shutdown()

		d, err := vdev.Open(args[0], vdev.ModeRead, env.queue, env.options())
		if err != nil {
			return err
		}
		defer d.Close()

		v := volume.New(d, volumeParams(env.cfg))

		if jsonOut {
			return json.NewEncoder(os.Stdout).Encode(d.Info())
		}

		info := d.Info()
		fmt.Printf("Path:        %s\n", info.Path)
		fmt.Printf("Device ID:   %s\n", info.ID)
		fmt.Printf("Size:        %s (%d bytes)\n", formatSize(info.Size), info.Size)
		fmt.Printf("Block shift: %d (%d-byte sectors)\n", info.BlockShift, 1<<info.BlockShift)
		fmt.Printf("Blocks:      %d x %d bytes\n", v.BlockCount(), v.BlockSize())
		fmt.Printf("Identity:    %s %s %s\n", v.Vendor(), v.Product(), v.Revision())
		return nil
	},
}

var exerciseCmd = &cobra.Command{
	Use:   "exercise <path>",
	Short: "Run a patterned write/read/verify pass over the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ioSize, _ := cmd.Flags().GetInt("io-size")
		count, _ := cmd.Flags().GetInt("count")
		withTrim, _ := cmd.Flags().GetBool("trim")
		if ioSize <= 0 || count <= 0 {
			return fmt.Errorf("io-size and count must be positive")
		}

		env, err := setup()
		if err != nil {
			return err
		}
		defer env.shutdown()

		d, err := vdev.Open(args[0], vdev.ModeRead|vdev.ModeWrite, env.queue, env.options())
		if err != nil {
			return err
		}
		defer d.Close()

		span := int64(ioSize) * int64(count)
		if span > d.Size() {
			return fmt.Errorf("workload spans %s but device is only %s",
				formatSize(span), formatSize(d.Size()))
		}

		if err := runPattern(d, ioSize, count, withTrim); err != nil {
			return err
		}

		snap := d.MetricsSnapshot()
		if jsonOut {
			return json.NewEncoder(os.Stdout).Encode(snap)
		}
		printMetrics(snap)
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush <path>",
	Short: "Force durable write-back of the backing file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup()
		if err != nil {
			return err
		}
		defer env.shutdown()

		d, err := vdev.Open(args[0], vdev.ModeRead|vdev.ModeWrite, env.queue, env.options())
		if err != nil {
			return err
		}
		defer d.Close()

		v := volume.New(d, volumeParams(env.cfg))
		if err := v.SynchronizeCache(); err != nil {
			return err
		}
		fmt.Println("Flushed")
		return nil
	},
}

var trimCmd = &cobra.Command{
	Use:   "trim <path>",
	Short: "Discard a block range on the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		block, _ := cmd.Flags().GetUint64("block")
		nblks, _ := cmd.Flags().GetUint64("blocks")

		env, err := setup()
		if err != nil {
			return err
		}
		defer env.shutdown()

		d, err := vdev.Open(args[0], vdev.ModeRead|vdev.ModeWrite, env.queue, env.options())
		if err != nil {
			return err
		}
		defer d.Close()

		v := volume.New(d, volumeParams(env.cfg))
		if err := v.Discard(block, nblks); err != nil {
			return err
		}
		fmt.Printf("Discarded %d blocks at %d\n", nblks, block)
		return nil
	},
}

// environment bundles the process-wide pieces every command needs.
type environment struct {
	cfg    *config.Config
	queue  *taskq.Queue
	logger *logging.Logger
}

func setup() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logConfig := &logging.Config{
		Level:  parseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stderr,
	}
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	q := taskq.New(taskq.Config{Workers: cfg.Workers, Backlog: cfg.Backlog})
	q.Start()

	return &environment{cfg: cfg, queue: q, logger: logger}, nil
}

func (e *environment) shutdown() {
	e.queue.Stop()
}

func (e *environment) options() *vdev.Options {
	return &vdev.Options{
		Logger:   e.logger,
		DirectIO: directIO || e.cfg.DirectIO,
	}
}

func volumeParams(cfg *config.Config) volume.Params {
	return volume.Params{
		Vendor:   cfg.Vendor,
		Product:  cfg.Product,
		Revision: cfg.Revision,
	}
}

func parseLevel(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// runPattern writes a distinct byte pattern to each region, flushes, then
// reads every region back concurrently and verifies the contents.
func runPattern(d *vdev.Device, ioSize, count int, withTrim bool) error {
	var wg sync.WaitGroup
	writes := make([]*vdev.Request, count)
	for i := 0; i < count; i++ {
		wg.Add(1)
		r := &vdev.Request{
			Op:         vdev.OpWrite,
			Offset:     int64(i) * int64(ioSize),
			Length:     int64(ioSize),
			Data:       bytes.Repeat([]byte{byte(i + 1)}, ioSize),
			OnComplete: func(*vdev.Request) { wg.Done() },
		}
		writes[i] = r
		d.Submit(r)
	}
	wg.Wait()
	for i, r := range writes {
		if r.Err != nil {
			return fmt.Errorf("write %d: %w", i, r.Err)
		}
	}

	flush := &vdev.Request{Op: vdev.OpIoctl, Cmd: vdev.IoctlFlushWriteCache}
	d.Submit(flush)
	if flush.Err != nil {
		return fmt.Errorf("flush: %w", flush.Err)
	}

	reads := make([]*vdev.Request, count)
	for i := 0; i < count; i++ {
		wg.Add(1)
		r := &vdev.Request{
			Op:         vdev.OpRead,
			Offset:     int64(i) * int64(ioSize),
			Length:     int64(ioSize),
			Data:       make([]byte, ioSize),
			OnComplete: func(*vdev.Request) { wg.Done() },
		}
		reads[i] = r
		d.Submit(r)
	}
	wg.Wait()
	for i, r := range reads {
		if r.Err != nil {
			return fmt.Errorf("read %d: %w", i, r.Err)
		}
		want := bytes.Repeat([]byte{byte(i + 1)}, ioSize)
		if !bytes.Equal(r.Data, want) {
			return fmt.Errorf("region %d: verification mismatch", i)
		}
	}

	if withTrim {
		for i := 0; i < count; i++ {
			r := &vdev.Request{
				Op:     vdev.OpTrim,
				Offset: int64(i) * int64(ioSize),
				Length: int64(ioSize),
			}
			d.Submit(r)
			if r.Err != nil {
				if vdev.IsCode(r.Err, vdev.CodeNotSupported) {
					fmt.Fprintln(os.Stderr, "trim not supported by backing store, skipping")
					break
				}
				return fmt.Errorf("trim %d: %w", i, r.Err)
			}
		}
	}

	return nil
}

func printMetrics(snap vdev.MetricsSnapshot) {
	fmt.Printf("Reads:   %d ops, %s\n", snap.ReadOps, formatSize(int64(snap.ReadBytes)))
	fmt.Printf("Writes:  %d ops, %s\n", snap.WriteOps, formatSize(int64(snap.WriteBytes)))
	if snap.TrimOps > 0 {
		fmt.Printf("Trims:   %d ops, %s\n", snap.TrimOps, formatSize(int64(snap.TrimBytes)))
	}
	fmt.Printf("Flushes: %d ops\n", snap.FlushOps)
	fmt.Printf("Latency: avg %dus, p50 %dus, p99 %dus\n",
		snap.AvgLatencyNs/1000, snap.LatencyP50Ns/1000, snap.LatencyP99Ns/1000)
	fmt.Printf("Backlog: avg %.1f, max %d\n", snap.AvgBacklog, snap.MaxBacklog)
	if snap.ErrorRate > 0 {
		fmt.Printf("Errors:  %.2f%%\n", snap.ErrorRate)
	}
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(s, "K") {
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	} else if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	} else {
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit machine-readable output")
	rootCmd.PersistentFlags().BoolVar(&directIO, "direct", false, "open the backing file with O_DIRECT")

	createCmd.Flags().String("size", "64M", "size of the backing file (e.g., 64M, 1G)")

	exerciseCmd.Flags().Int("io-size", 4096, "bytes per request")
	exerciseCmd.Flags().Int("count", 256, "number of regions to write and verify")
	exerciseCmd.Flags().Bool("trim", false, "discard each region after verification")

	trimCmd.Flags().Uint64("block", 0, "first block to discard")
	trimCmd.Flags().Uint64("blocks", 1, "number of blocks to discard")

	rootCmd.AddCommand(createCmd, infoCmd, exerciseCmd, flushCmd, trimCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
