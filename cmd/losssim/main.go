// Command losssim runs the single-server loss system once per seed and prints
// the running sums of rejected and transmitted arrivals after every run, then
// their averages over the runs.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/iti/qnetsim"
	"github.com/iti/qnetsim/cmd/internal/clisetup"
	"github.com/spf13/cobra"
)

// seeds of the reference runs; the zero ends the list
var defaultSeeds = []uint{333333, 4444444, 55555555, 400383048, 0}

type losssimFlags struct {
	cfg       qnetsim.LossSysCfg
	seeds     []uint
	traceFile string
	logLevel  string
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	flags := losssimFlags{cfg: qnetsim.DefaultLossSysCfg()}
	cmd := &cobra.Command{
		Use:           "losssim",
		Short:         "Simulate a single-server FIFO loss system over a list of seeds",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := clisetup.LoadEnv(); err != nil {
				return err
			}
			return clisetup.SetupLogging(cmd.ErrOrStderr(), flags.logLevel, "warn")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds := make([]uint64, len(flags.seeds))
			for idx, seed := range flags.seeds {
				seeds[idx] = uint64(seed)
			}
			return runSeeds(stdout, cmd.ErrOrStderr(), flags.cfg, seeds, flags.traceFile)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&flags.cfg.ArrivalRate, "arrival-rate", flags.cfg.ArrivalRate, "mean packet arrivals per second")
	f.Float64Var(&flags.cfg.LinkRate, "link-rate", flags.cfg.LinkRate, "packets per second, or bits per second with --srv-dist bysize")
	f.StringVar(&flags.cfg.SrvDist, "srv-dist", flags.cfg.SrvDist, "service time: fixed, bysize or exp")
	f.IntVar(&flags.cfg.PcktBits, "pckt-bits", flags.cfg.PcktBits, "packet length in bits")
	f.IntVarP(&flags.cfg.Capacity, "capacity", "B", flags.cfg.Capacity, "packets buffered besides the one in service, negative for no limit")
	f.Float64Var(&flags.cfg.RunLength, "runlength", flags.cfg.RunLength, "simulation time of each run, in seconds")
	f.BoolVar(&flags.cfg.Verbose, "verbose", false, "log every event at debug level")
	f.UintSliceVar(&flags.seeds, "seeds", defaultSeeds, "random seeds, one run each; a zero ends the list")
	f.StringVar(&flags.traceFile, "trace", "", "write a trace of every event to this .yaml or .json file")
	f.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

// runSeeds runs the loss system once for each seed before the first zero
func runSeeds(stdout, stderr io.Writer, cfg qnetsim.LossSysCfg, seeds []uint64, traceFile string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	seeds = qnetsim.SeedsUntilZero(seeds)
	if len(seeds) == 0 {
		return errors.New("no seeds before the terminating zero")
	}
	if _, err := qnetsim.CheckOutputFiles([]string{traceFile}); err != nil {
		return err
	}
	tm := qnetsim.CreateTraceManager("losssim", traceFile != "")

	var rejected, transmitted float64
	for idx, seed := range seeds {
		ls, err := qnetsim.CreateLossSys(cfg, qnetsim.CreateRandStream(seed), log.Log)
		if err != nil {
			return err
		}
		ls.SetTrace(tm, idx)
		if err := tm.AddName(idx, fmt.Sprintf("seed-%d", seed), "loss system"); err != nil {
			return err
		}
		rs, err := ls.Run()
		if err != nil {
			return fmt.Errorf("seed %d: %w", seed, err)
		}
		fmt.Fprintf(stdout, "Random seed = %d: arrivals = %d, rejected = %d, transmitted = %d, loss rate = %.5f\n",
			seed, rs.Arrivals, rs.Rejected, rs.Transmitted, rs.LossRate())

		rejected += float64(rs.Rejected)
		fmt.Fprintf(stdout, "Rejected arrival count = %.3f \n", rejected)
		transmitted += float64(rs.Transmitted)
		fmt.Fprintf(stdout, "Transmitted arrival count = %.3f \n", transmitted)
	}
	n := float64(len(seeds))
	fmt.Fprintf(stderr, "Average Rejected arrival count = %.3f \n", rejected/n)
	fmt.Fprintf(stderr, "Average Transmitted arrival count = %.3f \n", transmitted/n)
	return tm.WriteToFile(traceFile)
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		log.WithError(err).Error("losssim")
		os.Exit(1)
	}
}
