package qnetsim

// desc-exp.go holds the serializable descriptions of experiments: named
// parameter settings for the loss system and the shaper, and the sweep
// descriptions that vary one parameter over a list of values and a list of seeds.

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// ErrBadConfig is wrapped by every CfgError
var ErrBadConfig = errors.New("invalid configuration")

// CfgError collects every problem found in a configuration
type CfgError struct {
	Errs []error
}

func (ce *CfgError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBadConfig, ReportErrs(ce.Errs))
}

func (ce *CfgError) Unwrap() error {
	return ErrBadConfig
}

// cfgErrs returns a CfgError holding the non-nil members of errs, or nil if there are none
func cfgErrs(errs []error) error {
	found := []error{}
	for _, err := range errs {
		if err != nil {
			found = append(found, err)
		}
	}
	if len(found) == 0 {
		return nil
	}
	return &CfgError{Errs: found}
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// model names used in sweep descriptions and result records
const (
	LossModel   = "loss"
	ShaperModel = "shaper"
)

// An ExpParameter struct describes one setting of a model parameter.
//   - ParamObj identifies the model being configured : LossSys or Shaper
//   - Param names the parameter, e.g. "capacity" or "tokenRate"
//   - Value is the string encoding of the value; lists are comma-separated
type ExpParameter struct {
	// Type of thing being configured
	ParamObj string `json:"paramObj" yaml:"paramObj"`

	// ParameterType, e.g., "arrivalRate", "maxTokens"
	Param string `json:"param" yaml:"param"`

	// string-encoded value associated with type
	Value string `json:"value" yaml:"value"`
}

// CreateExpParameter is a constructor.  Completely fills in the struct with the [ExpParameter] attributes.
func CreateExpParameter(paramObj, param, value string) *ExpParameter {
	return &ExpParameter{ParamObj: paramObj, Param: param, Value: value}
}

var ExpParamObjs []string
var ExpParams map[string][]string
var expParamsOnce sync.Once

// GetExpParamDesc returns ExpParamObjs and ExpParams after ensuring that they have been built.
// It is safe for concurrent use.
func GetExpParamDesc() ([]string, map[string][]string) {
	expParamsOnce.Do(func() {
		ExpParamObjs = []string{"LossSys", "Shaper"}
		ExpParams = make(map[string][]string)
		ExpParams["LossSys"] = []string{"arrivalRate", "linkRate", "srvDist", "pcktBits", "capacity", "runLength"}
		ExpParams["Shaper"] = []string{"maxTokens", "maxData", "tokenRate", "arrivalRate", "pcktSizes", "runLength", "refill"}
	})

	return ExpParamObjs, ExpParams
}

// paramObjOf maps a model name onto the ParamObj its parameters are described under
func paramObjOf(model string) string {
	if model == ShaperModel {
		return "Shaper"
	}
	return "LossSys"
}

// ValidateParameter returns an error if the paramObj and param values don't
// make sense taken together within an ExpParameter.
func ValidateParameter(paramObj, param string) error {
	paramObjs, params := GetExpParamDesc()
	if !slices.Contains(paramObjs, paramObj) {
		return fmt.Errorf("parameter paramObj %s is not recognized", paramObj)
	}
	if !slices.Contains(params[paramObj], param) {
		return fmt.Errorf("parameter %s is not recognized for paramObj %s", param, paramObj)
	}
	return nil
}

// ApplyLossSysParam sets the field of cfg named by param from its string encoding
func ApplyLossSysParam(cfg *LossSysCfg, param, value string) error {
	if err := ValidateParameter("LossSys", param); err != nil {
		return err
	}
	var err error
	value = strings.TrimSpace(value)
	switch param {
	case "arrivalRate":
		cfg.ArrivalRate, err = strconv.ParseFloat(value, 64)
	case "linkRate":
		cfg.LinkRate, err = strconv.ParseFloat(value, 64)
	case "srvDist":
		cfg.SrvDist = value
	case "pcktBits":
		cfg.PcktBits, err = parseWholeNumber(value)
	case "capacity":
		cfg.Capacity, err = parseWholeNumber(value)
	case "runLength":
		cfg.RunLength, err = strconv.ParseFloat(value, 64)
	}
	if err != nil {
		return fmt.Errorf("LossSys %s: %w", param, err)
	}
	return nil
}

// ApplyShaperParam sets the field of cfg named by param from its string encoding
func ApplyShaperParam(cfg *ShaperCfg, param, value string) error {
	if err := ValidateParameter("Shaper", param); err != nil {
		return err
	}
	var err error
	var n int
	value = strings.TrimSpace(value)
	switch param {
	case "maxTokens":
		n, err = parseWholeNumber(value)
		cfg.MaxTokens = int64(n)
	case "maxData":
		cfg.MaxData, err = parseWholeNumber(value)
	case "tokenRate":
		cfg.TokenRate, err = strconv.ParseFloat(value, 64)
	case "arrivalRate":
		cfg.ArrivalRate, err = strconv.ParseFloat(value, 64)
	case "pcktSizes":
		sizes := []int{}
		for _, field := range strings.Split(value, ",") {
			n, err = parseWholeNumber(field)
			if err != nil {
				break
			}
			sizes = append(sizes, n)
		}
		cfg.PcktSizes = sizes
	case "runLength":
		cfg.RunLength, err = strconv.ParseFloat(value, 64)
	case "refill":
		cfg.Refill = value
	}
	if err != nil {
		return fmt.Errorf("Shaper %s: %w", param, err)
	}
	return nil
}

// parseWholeNumber accepts integers written either plainly or as a float with
// no fractional part, since swept values are generated by floating point steps
func parseWholeNumber(value string) (int, error) {
	value = strings.TrimSpace(value)
	n, err := strconv.Atoi(value)
	if err == nil {
		return n, nil
	}
	x, ferr := strconv.ParseFloat(value, 64)
	if ferr != nil || x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
		return 0, fmt.Errorf("%q is not a whole number", value)
	}
	return int(x), nil
}

// SweepRange names the swept parameter and its values.  Values, when present,
// are used as given; otherwise From, From+Step, ... up to and including To.
type SweepRange struct {
	Param  string   `json:"param" yaml:"param"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
	From   float64  `json:"from,omitempty" yaml:"from,omitempty"`
	To     float64  `json:"to,omitempty" yaml:"to,omitempty"`
	Step   float64  `json:"step,omitempty" yaml:"step,omitempty"`
}

// MaxSweepPoints bounds the number of values a SweepRange may generate
const MaxSweepPoints = 100000

// Expand returns the string encodings of the swept values
func (sr *SweepRange) Expand() ([]string, error) {
	if len(sr.Values) > 0 {
		return slices.Clone(sr.Values), nil
	}
	if !(sr.Step > 0.0) || math.IsInf(sr.Step, 1) {
		return nil, fmt.Errorf("sweep of %s needs values or a positive step", sr.Param)
	}
	if sr.To < sr.From {
		return nil, fmt.Errorf("sweep of %s runs from %g down to %g", sr.Param, sr.From, sr.To)
	}

	// index the steps rather than accumulating, so rounding error does not drop the last value
	steps := math.Floor((sr.To-sr.From)/sr.Step + 1e-9)
	if !(steps+1 <= MaxSweepPoints) {
		return nil, fmt.Errorf("sweep of %s from %g to %g by %g exceeds %d values",
			sr.Param, sr.From, sr.To, sr.Step, MaxSweepPoints)
	}
	values := []string{}
	for idx := 0; idx <= int(steps); idx++ {
		x := roundFloat(sr.From+float64(idx)*sr.Step, rdigits)
		values = append(values, strconv.FormatFloat(x, 'f', -1, 64))
	}
	return values, nil
}

var rdigits uint = 12

// round computed values to avoid non-sensical values
// induced by rounding error
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// SweepCfg describes an experiment: a model, its fixed parameters, one swept
// parameter, and the seeds every point of the sweep is replicated over
type SweepCfg struct {
	// Name is an identifier for the experiment, carried into result records
	Name string `json:"expname" yaml:"expname"`

	// Model is LossModel or ShaperModel
	Model string `json:"model" yaml:"model"`

	// Parameters are applied in order over the model's default configuration
	Parameters []ExpParameter `json:"parameters" yaml:"parameters"`

	Sweep SweepRange `json:"sweep" yaml:"sweep"`

	// Seeds lists the seed of each replication; a zero ends the list
	Seeds []uint64 `json:"seeds" yaml:"seeds"`

	// RngKind selects the generator; with RngLEcuyer the seeds only number the replications
	RngKind RngKind `json:"rngkind,omitempty" yaml:"rngkind,omitempty"`

	// Workers bounds the number of replications run at once; zero or one runs them in sequence
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// CreateSweepCfg is a constructor
func CreateSweepCfg(name, model string) *SweepCfg {
	return &SweepCfg{Name: name, Model: model, Parameters: make([]ExpParameter, 0), RngKind: RngPCG}
}

// AddParameter validates a fixed parameter setting and adds it to the experiment
func (sc *SweepCfg) AddParameter(param, value string) error {
	paramObj := paramObjOf(sc.Model)
	if err := ValidateParameter(paramObj, param); err != nil {
		return err
	}
	sc.Parameters = append(sc.Parameters, *CreateExpParameter(paramObj, param, value))
	return nil
}

// Validate checks everything about the experiment that can be checked before building a model
func (sc *SweepCfg) Validate() error {
	errs := []error{}
	if sc.Model != LossModel && sc.Model != ShaperModel {
		errs = append(errs, fmt.Errorf("model %q is neither %s nor %s", sc.Model, LossModel, ShaperModel))
	}
	paramObj := paramObjOf(sc.Model)
	for _, param := range sc.Parameters {
		if param.ParamObj != paramObj {
			errs = append(errs, fmt.Errorf("parameter %s of %s given to a %s experiment", param.Param, param.ParamObj, sc.Model))
			continue
		}
		errs = append(errs, ValidateParameter(param.ParamObj, param.Param))
	}
	errs = append(errs, ValidateParameter(paramObj, sc.Sweep.Param))
	if _, err := sc.Sweep.Expand(); err != nil {
		errs = append(errs, err)
	}
	if len(SeedsUntilZero(sc.Seeds)) == 0 {
		errs = append(errs, errors.New("no seeds before the terminating zero"))
	}
	if sc.RngKind != "" && sc.RngKind != RngPCG && sc.RngKind != RngLEcuyer {
		errs = append(errs, fmt.Errorf("rng kind %q is not recognized", sc.RngKind))
	}
	if sc.Workers < 0 {
		errs = append(errs, fmt.Errorf("worker count %d is negative", sc.Workers))
	}
	return cfgErrs(errs)
}

// SeedsUntilZero returns the seeds that precede the first zero; zero is the
// end-of-list sentinel and never a seed
func SeedsUntilZero(seeds []uint64) []uint64 {
	idx := slices.Index(seeds, 0)
	if idx < 0 {
		return slices.Clone(seeds)
	}
	return slices.Clone(seeds[:idx])
}

// WriteToFile stores the SweepCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sc *SweepCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*sc)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*sc, "", "\t")
	default:
		return fmt.Errorf("sweep description %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// ReadSweepCfg deserializes a byte slice holding a representation of a SweepCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.
func ReadSweepCfg(filename string, useYAML bool, dict []byte) (*SweepCfg, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := SweepCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	if example.RngKind == "" {
		example.RngKind = RngPCG
	}

	return &example, nil
}

// UseYAML reports whether the extension of filename calls for yaml rather than json
func UseYAML(filename string) bool {
	ext := path.Ext(filename)
	return ext == ".yaml" || ext == ".YAML" || ext == ".yml"
}

// CheckOutputFiles probes the file system to ensure that the directory of
// every named output file exists.
func CheckOutputFiles(names []string) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		if len(name) == 0 {
			continue
		}

		// split off the directory portion of the path
		directory, _ := filepath.Split(name)
		if directory == "" {
			continue
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}
