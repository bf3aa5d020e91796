// Command qsweep runs parameter sweeps of the loss system and the shaper
// described in yaml or json files, and writes one CSV line per swept value.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/apex/log"
	"github.com/iti/qnetsim"
	"github.com/iti/qnetsim/cmd/internal/clisetup"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

func newRootCmd(stdout io.Writer) *cobra.Command {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:           "qsweep",
		Short:         "Run parameter sweeps of the loss system and the token bucket shaper",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := clisetup.LoadEnv(); err != nil {
				return err
			}
			return clisetup.SetupLogging(cmd.ErrOrStderr(), logLevel, "info")
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.AddCommand(newRunCmd(stdout), newExampleCmd())
	return rootCmd
}

type runFlags struct {
	out     string
	db      string
	workers int
}

func newRunCmd(stdout io.Writer) *cobra.Command {
	flags := runFlags{}
	cmd := &cobra.Command{
		Use:   "run <sweep.yaml>",
		Short: "Run the sweep described in a .yaml or .json file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runSweepFile(ctx, stdout, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.out, "out", "", "write the CSV to this file instead of standard output")
	cmd.Flags().StringVar(&flags.db, "db", "", "also record every run in this SQLite database")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "replications run at once, overriding the description when positive")
	return cmd
}

func runSweepFile(ctx context.Context, stdout io.Writer, filename string, flags runFlags) error {
	sc, err := qnetsim.ReadSweepCfg(filename, qnetsim.UseYAML(filename), nil)
	if err != nil {
		return err
	}
	if flags.workers > 0 {
		sc.Workers = flags.workers
	}
	if _, err := qnetsim.CheckOutputFiles([]string{flags.out, flags.db}); err != nil {
		return err
	}

	var rec qnetsim.Recorder
	if flags.db != "" {
		dbRec, err := qnetsim.CreateSQLiteRecorder(flags.db)
		if err != nil {
			return err
		}
		atexit.Register(func() {
			if err := dbRec.Close(); err != nil {
				log.WithError(err).Errorf("closing %s", dbRec.Name())
			}
		})
		rec = dbRec
	}

	// an interrupted sweep still returns, and has recorded, the runs that completed
	points, runErr := qnetsim.RunSweep(ctx, sc, log.WithField("expname", sc.Name), rec)
	if points == nil {
		return runErr
	}
	return errors.Join(runErr, writeSweepCSV(stdout, flags.out, sc.Sweep.Param, points))
}

// writeSweepCSV writes the sweep points to the file named out, or to stdout when out is empty
func writeSweepCSV(stdout io.Writer, out, param string, points []qnetsim.SweepPoint) (err error) {
	if out == "" {
		return qnetsim.WriteSweepCSV(stdout, param, points)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return qnetsim.WriteSweepCSV(f, param, points)
}

func newExampleCmd() *cobra.Command {
	var ext string
	cmd := &cobra.Command{
		Use:   "example <directory>",
		Short: "Write sweep descriptions of the reference experiments into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, sc := range exampleSweeps() {
				filename := fmt.Sprintf("%s/%s.%s", args[0], sc.Name, ext)
				if err := sc.WriteToFile(filename); err != nil {
					return err
				}
				log.Infof("wrote %s", filename)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ext, "ext", "yaml", "yaml or json")
	return cmd
}

// reference seeds of the shaper experiments
var shaperSeeds = []uint64{333333, 4444444, 5555555, 400383048, 0}

// exampleSweeps returns descriptions of the buffer size, packet length, bucket
// depth and token rate experiments
func exampleSweeps() []*qnetsim.SweepCfg {
	sweeps := []*qnetsim.SweepCfg{}

	// loss and throughput against the buffer size
	q1a := qnetsim.CreateSweepCfg("q1a", qnetsim.LossModel)
	q1a.Sweep = qnetsim.SweepRange{Param: "capacity", From: 1, To: 4, Step: 1}
	q1a.Seeds = []uint64{333333, 4444444, 55555555, 400383048, 0}
	sweeps = append(sweeps, q1a)

	// a bit rate link, loss against the packet length
	q2 := qnetsim.CreateSweepCfg("q2", qnetsim.LossModel)
	setParams(q2, "srvDist", qnetsim.SrvBySize, "linkRate", "1e6")
	q2.Sweep = qnetsim.SweepRange{Param: "pcktBits", From: 3000, To: 30000, Step: 1000}
	q2.Seeds = q1a.Seeds
	sweeps = append(sweeps, q2)

	// tokens counting packets rather than bits, loss against the bucket depth
	q3a := qnetsim.CreateSweepCfg("q3_a", qnetsim.ShaperModel)
	setParams(q3a, "pcktSizes", "1", "maxData", "10", "tokenRate", "90")
	q3a.Sweep = qnetsim.SweepRange{Param: "maxTokens", From: 1, To: 50, Step: 1}
	q3a.Seeds = shaperSeeds
	sweeps = append(sweeps, q3a)

	// bits as tokens, loss against the token rate around the offered load of 150 kb/s;
	// fluid refill spares one event per token at these rates
	q3b := qnetsim.CreateSweepCfg("q3_b", qnetsim.ShaperModel)
	setParams(q3b, "maxTokens", "10000", "maxData", "50", "refill", qnetsim.RefillFluid)
	q3b.Sweep = qnetsim.SweepRange{Param: "tokenRate", From: 50000, To: 250000, Step: 10000}
	q3b.Seeds = shaperSeeds
	sweeps = append(sweeps, q3b)

	return sweeps
}

// setParams adds the (name, value) pairs of kv as fixed parameters of sc
func setParams(sc *qnetsim.SweepCfg, kv ...string) {
	for idx := 0; idx+1 < len(kv); idx += 2 {
		if err := sc.AddParameter(kv[idx], kv[idx+1]); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		log.WithError(err).Error("qsweep")
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
