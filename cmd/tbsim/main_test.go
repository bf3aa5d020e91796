package main

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var outputLine = regexp.MustCompile(`^[0-9]+\.[0-9]{5},[0-9]+\.[0-9]{2}\n$`)

func runTbsim(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestTbsimPrintsLossAndThroughput(t *testing.T) {
	out, err := runTbsim(t, "1000", "50", "1000", "42")
	require.NoError(t, err)
	require.Regexp(t, outputLine, out)

	again, err := runTbsim(t, "1000", "50", "1000", "42")
	require.NoError(t, err)
	require.Equal(t, out, again)
}

func TestTbsimFlowingRunIsReproducible(t *testing.T) {
	for _, refill := range []string{"tick", "fluid"} {
		t.Run(refill, func(t *testing.T) {
			args := []string{"5000", "50", "50000", "42", "--refill", refill, "--runlength", "10"}
			out, err := runTbsim(t, args...)
			require.NoError(t, err)
			require.Regexp(t, outputLine, out)

			fields := strings.Split(strings.TrimSpace(out), ",")
			throughput, err := strconv.ParseFloat(fields[1], 64)
			require.NoError(t, err)
			require.Greater(t, throughput, 0.0)
			require.LessOrEqual(t, throughput, 50000.0+5000.0/10.0)

			again, err := runTbsim(t, args...)
			require.NoError(t, err)
			require.Equal(t, out, again)
		})
	}
}

func TestTbsimFluidRefill(t *testing.T) {
	out, err := runTbsim(t, "3000", "50", "1000", "7", "--refill", "fluid", "--runlength", "20")
	require.NoError(t, err)
	require.Regexp(t, outputLine, out)
}

func TestTbsimRejectsBadArguments(t *testing.T) {
	cases := map[string][]string{
		"too few":        {"1000", "50", "1000"},
		"too many":       {"1000", "50", "1000", "42", "9"},
		"bad max tokens": {"lots", "50", "1000", "42"},
		"bad max data":   {"1000", "5.5", "1000", "42"},
		"bad token rate": {"1000", "50", "fast", "42"},
		"bad seed":       {"1000", "50", "1000", "-3"},
		"zero rate":      {"1000", "50", "0", "42"},
		"negative data":  {"1000", "-1", "1000", "42"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := runTbsim(t, args...)
			require.Error(t, err)
			require.Empty(t, out)
		})
	}
}

func TestTbsimWritesTrace(t *testing.T) {
	traceFile := filepath.Join(t.TempDir(), "trace.yaml")
	out, err := runTbsim(t, "1000", "10", "1000", "3", "--runlength", "1", "--trace", traceFile)
	require.NoError(t, err)
	require.Regexp(t, outputLine, out)
	require.FileExists(t, traceFile)
}
