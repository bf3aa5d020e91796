package qnetsim

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps run id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers a record of every event dispatched in the runs of an experiment
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each run index
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, indexed by run
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores a trace record under the run whose index is given
func (tm *TraceManager) AddTrace(vrt vrtime.Time, runIdx int, trace TraceInst) {
	if !tm.Active() {
		return
	}
	tm.Traces[runIdx] = append(tm.Traces[runIdx], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) error {
	if !tm.Active() {
		return nil
	}
	_, present := tm.NameByID[id]
	if present {
		return fmt.Errorf("duplicated id %d in trace names", id)
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	return nil
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*tm)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	default:
		return fmt.Errorf("trace file %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// EvtTrace saves the state of a model at the dispatch of one event
type EvtTrace struct {
	Time     float64 `json:"time" yaml:"time"`         // time in float64
	Ticks    int64   `json:"ticks" yaml:"ticks"`       // ticks variable of time
	Priority int64   `json:"priority" yaml:"priority"` // priority field of time-stamp
	Kind     string  `json:"kind" yaml:"kind"`
	Desc     string  `json:"desc" yaml:"desc"`
	PcktID   int     `json:"pcktid" yaml:"pcktid"` // packet the event carries, -1 if none
	QueueLen int     `json:"queuelen" yaml:"queuelen"`
	Tokens   float64 `json:"tokens" yaml:"tokens"`
	SrvBusy  bool    `json:"srvbusy" yaml:"srvbusy"`
}

func (etr *EvtTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*etr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddEvtTrace creates a record of the dispatch of evt and stores it under runIdx
func AddEvtTrace(tm *TraceManager, runIdx int, evt *Event, qlen int, tokens float64, busy bool) {
	if !tm.Active() {
		return
	}
	vrt := vrtime.SecondsToTime(evt.Time)
	etr := new(EvtTrace)
	etr.Time = vrt.Seconds()
	etr.Ticks = vrt.Ticks()
	etr.Priority = vrt.Pri()
	etr.Kind = evt.Kind.String()
	etr.Desc = evt.Desc
	etr.PcktID = -1
	if p, ok := evt.Data.(*Packet); ok {
		etr.PcktID = p.ID
	}
	etr.QueueLen = qlen
	etr.Tokens = tokens
	etr.SrvBusy = busy

	traceTime := strconv.FormatFloat(evt.Time, 'f', -1, 64)
	tm.AddTrace(vrt, runIdx, TraceInst{TraceTime: traceTime, TraceType: "event", TraceStr: etr.Serialize()})
}
