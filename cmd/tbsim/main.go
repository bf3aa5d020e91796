// Command tbsim runs one token bucket shaper simulation and prints its loss
// rate and throughput as "<loss_rate>,<throughput_bps>".
//
//	tbsim <max_tokens> <max_data> <token_rate> <seed>
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/apex/log"
	"github.com/iti/qnetsim"
	"github.com/iti/qnetsim/cmd/internal/clisetup"
	"github.com/spf13/cobra"
)

type tbsimFlags struct {
	runLength   float64
	arrivalRate float64
	refill      string
	traceFile   string
	logLevel    string
	verbose     bool
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	flags := tbsimFlags{}
	cmd := &cobra.Command{
		Use:   "tbsim <max_tokens> <max_data> <token_rate> <seed>",
		Short: "Simulate a token bucket shaper in front of a bounded data buffer",
		Long: `tbsim runs one simulation of a token bucket shaper fed by Poisson
arrivals of packets of 500 to 2500 bits.  max_tokens is the bucket ceiling,
max_data the buffer capacity in packets, token_rate the tokens generated per
second and seed the seed of the random stream.`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := clisetup.LoadEnv(); err != nil {
				return err
			}
			return clisetup.SetupLogging(cmd.ErrOrStderr(), flags.logLevel, "warn")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, seed, err := shaperCfgFromArgs(args, flags)
			if err != nil {
				return err
			}
			return runShaper(stdout, cfg, seed, flags.traceFile)
		},
	}
	dflt := qnetsim.DefaultShaperCfg()
	cmd.Flags().Float64Var(&flags.runLength, "runlength", dflt.RunLength, "simulation time of the run, in seconds")
	cmd.Flags().Float64Var(&flags.arrivalRate, "arrival-rate", dflt.ArrivalRate, "mean packet arrivals per second")
	cmd.Flags().StringVar(&flags.refill, "refill", dflt.Refill, "token refill mode, tick or fluid")
	cmd.Flags().StringVar(&flags.traceFile, "trace", "", "write a trace of every event to this .yaml or .json file")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "log every event at debug level")
	return cmd
}

// shaperCfgFromArgs parses the positional arguments over the default configuration
func shaperCfgFromArgs(args []string, flags tbsimFlags) (qnetsim.ShaperCfg, uint64, error) {
	cfg := qnetsim.DefaultShaperCfg()
	maxTokens, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return cfg, 0, fmt.Errorf("max_tokens %q: %w", args[0], err)
	}
	maxData, err := strconv.Atoi(args[1])
	if err != nil {
		return cfg, 0, fmt.Errorf("max_data %q: %w", args[1], err)
	}
	tokenRate, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return cfg, 0, fmt.Errorf("token_rate %q: %w", args[2], err)
	}
	seed, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		return cfg, 0, fmt.Errorf("seed %q: %w", args[3], err)
	}
	cfg.MaxTokens = maxTokens
	cfg.MaxData = maxData
	cfg.TokenRate = tokenRate
	cfg.ArrivalRate = flags.arrivalRate
	cfg.RunLength = flags.runLength
	cfg.Refill = flags.refill
	cfg.Verbose = flags.verbose
	return cfg, seed, cfg.Validate()
}

func runShaper(stdout io.Writer, cfg qnetsim.ShaperCfg, seed uint64, traceFile string) error {
	if _, err := qnetsim.CheckOutputFiles([]string{traceFile}); err != nil {
		return err
	}
	sh, err := qnetsim.CreateShaper(cfg, qnetsim.CreateRandStream(seed), log.Log)
	if err != nil {
		return err
	}
	tm := qnetsim.CreateTraceManager("tbsim", traceFile != "")
	sh.SetTrace(tm, 0)
	if err := tm.AddName(0, fmt.Sprintf("seed-%d", seed), "shaper"); err != nil {
		return err
	}

	rs, err := sh.Run()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%.5f,%.2f\n", rs.LossRate(), rs.ThroughputBps())
	return tm.WriteToFile(traceFile)
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		log.WithError(err).Error("tbsim")
		os.Exit(1)
	}
}
