package qnetsim

// server.go holds the transmission link.  It serves one packet at a time; the
// owner decides the service time when service starts and the server schedules
// its own completion event.

// SrvState is the binary state of a Server
type SrvState int

const (
	SrvIdle SrvState = iota
	SrvBusy
)

func (ss SrvState) String() string {
	if ss == SrvBusy {
		return "busy"
	}
	return "idle"
}

// Server models a link that is occupied for a service time once it accepts a packet
type Server struct {
	state     SrvState
	inSrv     *Packet // packet being served, nil when idle
	started   float64 // time service of inSrv began
	completes float64 // time service of inSrv ends
	busyTime  float64 // accumulated time spent serving completed packets
	served    int
}

// CreateServer is a constructor.  The server starts idle.
func CreateServer() *Server {
	srv := new(Server)
	srv.state = SrvIdle
	return srv
}

// State returns whether the server is idle or busy
func (srv *Server) State() SrvState {
	return srv.state
}

// Idle is true when no packet is in service
func (srv *Server) Idle() bool {
	return srv.state == SrvIdle
}

// InService returns the packet being served
func (srv *Server) InService() (*Packet, bool) {
	return srv.inSrv, srv.inSrv != nil
}

// Completes returns the scheduled completion time of the packet in service
func (srv *Server) Completes() float64 {
	return srv.completes
}

// Served returns the number of completed services
func (srv *Server) Served() int {
	return srv.served
}

// Start puts p into service for srvTime seconds and schedules the SrvComplete
// event carrying p.  Starting a busy server is a programming error and panics.
func (srv *Server) Start(es *EvtSched, p *Packet, srvTime float64) error {
	if srv.state == SrvBusy {
		panic("server started while busy")
	}
	now := es.CurrentTime()
	err := es.Schedule(now+srvTime, SrvComplete, p, "end of transmission")
	if err != nil {
		return err
	}
	srv.state = SrvBusy
	srv.inSrv = p
	srv.started = now
	srv.completes = now + srvTime
	return nil
}

// Complete ends the service in progress at time now and returns the packet that was served
func (srv *Server) Complete(now float64) (*Packet, bool) {
	if srv.state == SrvIdle {
		return nil, false
	}
	p := srv.inSrv
	srv.busyTime += now - srv.started
	srv.served += 1
	srv.state = SrvIdle
	srv.inSrv = nil
	srv.completes = 0.0
	return p, true
}

// Utilization returns the fraction of elapsed spent serving, counting the
// part of a service in progress that precedes elapsed
func (srv *Server) Utilization(elapsed float64) float64 {
	if elapsed <= 0.0 {
		return 0.0
	}
	busy := srv.busyTime
	if srv.state == SrvBusy && elapsed > srv.started {
		busy += elapsed - srv.started
	}
	return busy / elapsed
}
