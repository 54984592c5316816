package migration

import (
	"context"
	"fmt"
	"sync"
)

// Simulator implements every provider interface in memory with deterministic
// step counts, so a full migration can run without real infrastructure. Each
// polled operation completes after the configured number of observations.
type Simulator struct {
	mu sync.Mutex

	// SnapshotSteps, ShutdownSteps, TransformSteps, RefreshSteps, PowerOnSteps
	// and PlaybookSteps are the number of polls before the operation reports
	// complete. Zero means complete on first observation.
	SnapshotSteps  int
	ShutdownSteps  int
	TransformSteps int
	RefreshSteps   int
	PowerOnSteps   int
	PlaybookSteps  int

	// FailPlaybook makes the named phase's playbook finish unsuccessfully.
	FailPlaybook string

	snapshotPolls  map[string]int
	shutdownPolls  map[string]int
	transformPolls map[string]int
	refreshPolls   map[string]int
	powerOnPolls   map[string]int
	playbookPolls  map[string]int
	playbookPhases map[string]string
	removed        map[string]bool
	converting     map[string]bool
	powered        map[string]PowerState
	migrated       map[string]bool
	attributes     map[string]*VMAttributes
	nextRequest    int
}

// NewSimulator returns a simulator where every operation completes after one
// poll.
func NewSimulator() *Simulator {
	return &Simulator{
		SnapshotSteps:  1,
		ShutdownSteps:  1,
		TransformSteps: 1,
		RefreshSteps:   1,
		PowerOnSteps:   1,
		PlaybookSteps:  1,
		snapshotPolls:  make(map[string]int),
		shutdownPolls:  make(map[string]int),
		transformPolls: make(map[string]int),
		refreshPolls:   make(map[string]int),
		powerOnPolls:   make(map[string]int),
		playbookPolls:  make(map[string]int),
		playbookPhases: make(map[string]string),
		removed:        make(map[string]bool),
		converting:     make(map[string]bool),
		powered:        make(map[string]PowerState),
		migrated:       make(map[string]bool),
		attributes:     make(map[string]*VMAttributes),
	}
}

// destinationID derives the destination VM id for a source VM.
func destinationID(vmID string) string {
	return vmID + "-migrated"
}

func (s *Simulator) HasSnapshots(_ context.Context, vmID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed[vmID] {
		return false, nil
	}
	s.snapshotPolls[vmID]++
	if s.snapshotPolls[vmID] > s.SnapshotSteps {
		s.removed[vmID] = true
		return false, nil
	}
	return true, nil
}

func (s *Simulator) RemoveSnapshots(_ context.Context, vmID string) error {
	return nil
}

func (s *Simulator) IPAddress(_ context.Context, vmID string) (string, error) {
	return "10.0.0.1", nil
}

func (s *Simulator) Shutdown(_ context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownPolls[vmID] = 0
	return nil
}

func (s *Simulator) PowerState(_ context.Context, vmID string) (PowerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if polls, ok := s.shutdownPolls[vmID]; ok {
		s.shutdownPolls[vmID] = polls + 1
		if polls+1 > s.ShutdownSteps {
			delete(s.shutdownPolls, vmID)
			s.powered[vmID] = PowerOff
		}
	}
	if polls, ok := s.powerOnPolls[vmID]; ok {
		s.powerOnPolls[vmID] = polls + 1
		if polls+1 > s.PowerOnSteps {
			delete(s.powerOnPolls, vmID)
			s.powered[vmID] = PowerOn
		} else {
			return PowerOff, nil
		}
	}
	if state, ok := s.powered[vmID]; ok {
		return state, nil
	}
	return PowerOn, nil
}

// PowerOn starts an asynchronous power-on; PowerState reports on after
// PowerOnSteps observations.
func (s *Simulator) PowerOn(_ context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.powered, vmID)
	s.powerOnPolls[vmID] = 0
	return nil
}

// PowerOnRequested reports whether a power-on was issued for the VM.
func (s *Simulator) PowerOnRequested(vmID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, pending := s.powerOnPolls[vmID]; pending {
		return true
	}
	return s.powered[vmID] == PowerOn
}

func (s *Simulator) Attributes(_ context.Context, vmID string) (*VMAttributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attrs, ok := s.attributes[vmID]; ok {
		return attrs, nil
	}
	return &VMAttributes{Owner: "unassigned"}, nil
}

func (s *Simulator) MarkMigrated(_ context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrated[vmID] = true
	return nil
}

// Migrated reports whether the source VM was flagged migrated.
func (s *Simulator) Migrated(vmID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrated[vmID]
}

func (s *Simulator) Start(_ context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.converting[vmID] = true
	s.transformPolls[vmID] = 0
	return nil
}

func (s *Simulator) Progress(_ context.Context, vmID string) (*ConversionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformPolls[vmID]++
	polls := s.transformPolls[vmID]
	if polls > s.TransformSteps {
		s.converting[vmID] = false
		return &ConversionStatus{
			Percent:         100,
			Done:            true,
			DestinationVMID: destinationID(vmID),
		}, nil
	}
	pct := float64(polls) / float64(s.TransformSteps+1) * 100
	return &ConversionStatus{
		Percent: pct,
		Message: fmt.Sprintf("copying disks, %d of %d passes", polls, s.TransformSteps+1),
	}, nil
}

func (s *Simulator) SoftAbort(_ context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.converting[vmID] = false
	return nil
}

func (s *Simulator) HardKill(_ context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.converting[vmID] = false
	return nil
}

func (s *Simulator) Running(_ context.Context, vmID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.converting[vmID], nil
}

// SetConverting forces the conversion-running flag, used to exercise the
// teardown path.
func (s *Simulator) SetConverting(vmID string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.converting[vmID] = running
}

func (s *Simulator) Launch(_ context.Context, vmID, phase string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRequest++
	reqID := fmt.Sprintf("req-%d", s.nextRequest)
	s.playbookPolls[reqID] = 0
	s.playbookPhases[reqID] = phase
	return reqID, nil
}

func (s *Simulator) Status(_ context.Context, requestID string) (*PlaybookResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	polls, ok := s.playbookPolls[requestID]
	if !ok {
		return nil, fmt.Errorf("unknown playbook request %s", requestID)
	}
	s.playbookPolls[requestID] = polls + 1
	if polls+1 <= s.PlaybookSteps {
		return &PlaybookResult{}, nil
	}
	if s.FailPlaybook != "" && s.playbookPhases[requestID] == s.FailPlaybook {
		return &PlaybookResult{Finished: true, Message: "playbook run failed"}, nil
	}
	return &PlaybookResult{Finished: true, Succeeded: true}, nil
}

func (s *Simulator) Refreshed(_ context.Context, sourceVMID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshPolls[sourceVMID]++
	if s.refreshPolls[sourceVMID] > s.RefreshSteps {
		return destinationID(sourceVMID), true, nil
	}
	return "", false, nil
}

func (s *Simulator) ApplyRightSizing(_ context.Context, vmID string) error {
	return nil
}

func (s *Simulator) SetAttributes(_ context.Context, vmID string, attrs *VMAttributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributes[vmID] = attrs
	return nil
}
