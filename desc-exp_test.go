package qnetsim

import (
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyLossSysParam(t *testing.T) {
	cfg := DefaultLossSysCfg()
	require.NoError(t, ApplyLossSysParam(&cfg, "capacity", "7"))
	require.NoError(t, ApplyLossSysParam(&cfg, "pcktBits", "3000.0"))
	require.NoError(t, ApplyLossSysParam(&cfg, "linkRate", " 1e6 "))
	require.NoError(t, ApplyLossSysParam(&cfg, "srvDist", SrvBySize))
	require.Equal(t, 7, cfg.Capacity)
	require.Equal(t, 3000, cfg.PcktBits)
	require.Equal(t, 1e6, cfg.LinkRate)
	require.Equal(t, SrvBySize, cfg.SrvDist)

	require.Error(t, ApplyLossSysParam(&cfg, "capacity", "2.5"))
	require.Error(t, ApplyLossSysParam(&cfg, "arrivalRate", "many"))
	require.Error(t, ApplyLossSysParam(&cfg, "maxTokens", "10"))
}

func TestApplyShaperParam(t *testing.T) {
	cfg := DefaultShaperCfg()
	require.NoError(t, ApplyShaperParam(&cfg, "maxTokens", "10000"))
	require.NoError(t, ApplyShaperParam(&cfg, "pcktSizes", "100, 200,300"))
	require.NoError(t, ApplyShaperParam(&cfg, "refill", RefillFluid))
	require.Equal(t, int64(10000), cfg.MaxTokens)
	require.Equal(t, []int{100, 200, 300}, cfg.PcktSizes)
	require.Equal(t, RefillFluid, cfg.Refill)

	require.Error(t, ApplyShaperParam(&cfg, "pcktSizes", "100,x"))
	require.Error(t, ApplyShaperParam(&cfg, "capacity", "3"))
}

func TestValidateParameter(t *testing.T) {
	require.NoError(t, ValidateParameter("LossSys", "capacity"))
	require.NoError(t, ValidateParameter("Shaper", "tokenRate"))
	require.Error(t, ValidateParameter("Router", "capacity"))
	require.Error(t, ValidateParameter("Shaper", "capacity"))
}

func TestSweepRangeExpand(t *testing.T) {
	cases := []struct {
		name string
		sr   SweepRange
		want []string
	}{
		{"values", SweepRange{Param: "capacity", Values: []string{"1", "3"}}, []string{"1", "3"}},
		{"integers", SweepRange{Param: "capacity", From: 1, To: 4, Step: 1}, []string{"1", "2", "3", "4"}},
		{"fractions", SweepRange{Param: "arrivalRate", From: 0.1, To: 0.5, Step: 0.1},
			[]string{"0.1", "0.2", "0.3", "0.4", "0.5"}},
		{"single", SweepRange{Param: "capacity", From: 2, To: 2, Step: 1}, []string{"2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.sr.Expand()
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("values (-want +got):\n%s", diff)
			}
		})
	}

	_, err := (&SweepRange{Param: "capacity", From: 1, To: 4}).Expand()
	require.Error(t, err)
	_, err = (&SweepRange{Param: "capacity", From: 4, To: 1, Step: 1}).Expand()
	require.Error(t, err)
}

func TestSeedsUntilZero(t *testing.T) {
	require.Equal(t, []uint64{333333, 4444444}, SeedsUntilZero([]uint64{333333, 4444444, 0, 5}))
	require.Equal(t, []uint64{1, 2}, SeedsUntilZero([]uint64{1, 2}))
	require.Empty(t, SeedsUntilZero([]uint64{0, 1}))
	require.Empty(t, SeedsUntilZero(nil))
}

func exampleSweepCfg() *SweepCfg {
	sc := CreateSweepCfg("bucket-depth", ShaperModel)
	sc.AddParameter("maxData", "10")
	sc.AddParameter("pcktSizes", "1")
	sc.Sweep = SweepRange{Param: "maxTokens", From: 1, To: 3, Step: 1}
	sc.Seeds = []uint64{333333, 4444444, 0}
	return sc
}

func TestSweepCfgRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sc := exampleSweepCfg()
	require.NoError(t, sc.Validate())

	for _, name := range []string{"sweep.yaml", "sweep.json"} {
		filename := filepath.Join(dir, name)
		require.NoError(t, sc.WriteToFile(filename))
		back, err := ReadSweepCfg(filename, UseYAML(filename), nil)
		require.NoError(t, err)
		if diff := cmp.Diff(sc, back); diff != "" {
			t.Errorf("%s (-written +read):\n%s", name, diff)
		}
	}
	require.Error(t, sc.WriteToFile(filepath.Join(dir, "sweep.txt")))
}

func TestReadSweepCfgFromBytes(t *testing.T) {
	dict := []byte(`
expname: q1a
model: loss
parameters: []
sweep:
  param: capacity
  from: 1
  to: 4
  step: 1
seeds: [333333, 4444444, 55555555, 400383048, 0]
`)
	sc, err := ReadSweepCfg("", true, dict)
	require.NoError(t, err)
	require.Equal(t, RngPCG, sc.RngKind)
	require.NoError(t, sc.Validate())
	require.Len(t, SeedsUntilZero(sc.Seeds), 4)
}

func TestSweepCfgValidate(t *testing.T) {
	sc := exampleSweepCfg()
	require.Error(t, sc.AddParameter("capacity", "3"))

	sc.Model = "router"
	sc.Seeds = []uint64{0}
	sc.Workers = -1
	err := sc.Validate()
	require.ErrorIs(t, err, ErrBadConfig)
}

func TestCheckOutputFiles(t *testing.T) {
	dir := t.TempDir()
	ok, err := CheckOutputFiles([]string{"", "local.csv", filepath.Join(dir, "out.csv")})
	require.True(t, ok)
	require.NoError(t, err)

	ok, err = CheckOutputFiles([]string{filepath.Join(dir, "missing", "out.csv")})
	require.False(t, ok)
	require.Error(t, err)
}

func TestSweepRangeTooManyValues(t *testing.T) {
	sr := SweepRange{Param: "arrivalRate", From: 1, To: 1000, Step: 1e-6}
	_, err := sr.Expand()
	require.Error(t, err)

	_, err = (&SweepRange{Param: "arrivalRate", From: math.NaN(), To: 2, Step: 1}).Expand()
	require.Error(t, err)

	edge := SweepRange{Param: "capacity", From: 1, To: MaxSweepPoints, Step: 1}
	values, err := edge.Expand()
	require.NoError(t, err)
	require.Len(t, values, MaxSweepPoints)

	sc := exampleSweepCfg()
	sc.Sweep = sr
	require.ErrorIs(t, sc.Validate(), ErrBadConfig)
}

func TestGetExpParamDescConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	for idx := 0; idx < 8; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			objs, params := GetExpParamDesc()
			assert.Len(t, objs, 2)
			assert.Contains(t, params["Shaper"], "refill")
		}()
	}
	wg.Wait()
	require.NoError(t, ValidateParameter("LossSys", "srvDist"))
}
