package migration

import "context"

// PowerState is the coarse power status reported by providers.
type PowerState string

const (
	PowerOn  PowerState = "on"
	PowerOff PowerState = "off"
)

// VMAttributes is the preserved identity restored onto the destination VM.
type VMAttributes struct {
	Tags   map[string]string
	Custom map[string]string
	Owner  string
}

// Source is the provider hosting the VM being migrated.
type Source interface {
	// HasSnapshots reports whether the VM still carries snapshots.
	HasSnapshots(ctx context.Context, vmID string) (bool, error)
	// RemoveSnapshots starts asynchronous snapshot removal.
	RemoveSnapshots(ctx context.Context, vmID string) error
	// IPAddress returns the VM's reachable address, or "" when unknown.
	IPAddress(ctx context.Context, vmID string) (string, error)
	// Shutdown requests a guest-level shutdown.
	Shutdown(ctx context.Context, vmID string) error
	// PowerState reports the current power status.
	PowerState(ctx context.Context, vmID string) (PowerState, error)
	// PowerOn restarts the VM, used when a canceled migration rolls back.
	PowerOn(ctx context.Context, vmID string) error
	// Attributes reads the identity to carry over to the destination.
	Attributes(ctx context.Context, vmID string) (*VMAttributes, error)
	// MarkMigrated records on the source inventory that the VM moved.
	MarkMigrated(ctx context.Context, vmID string) error
}

// ConversionStatus is a snapshot of a running disk conversion.
type ConversionStatus struct {
	Percent         float64
	Done            bool
	Message         string
	DestinationVMID string
}

// Converter drives the external disk conversion (virt-v2v or equivalent).
type Converter interface {
	Start(ctx context.Context, vmID string) error
	Progress(ctx context.Context, vmID string) (*ConversionStatus, error)
	// SoftAbort asks the conversion to stop gracefully.
	SoftAbort(ctx context.Context, vmID string) error
	// HardKill terminates the conversion process.
	HardKill(ctx context.Context, vmID string) error
	Running(ctx context.Context, vmID string) (bool, error)
}

// PlaybookResult is the terminal outcome of one playbook run.
type PlaybookResult struct {
	Finished  bool
	Succeeded bool
	Message   string
}

// PlaybookService launches and tracks the pre and post migration playbooks.
type PlaybookService interface {
	// Launch starts the playbook for the given phase and returns a request id
	// used to poll for completion.
	Launch(ctx context.Context, vmID, phase string) (string, error)
	Status(ctx context.Context, requestID string) (*PlaybookResult, error)
}

// Inventory answers whether the destination provider's inventory has picked
// up the converted VM yet.
type Inventory interface {
	// Refreshed returns the destination VM id once inventory has seen it.
	Refreshed(ctx context.Context, sourceVMID string) (string, bool, error)
}

// Destination is the provider receiving the migrated VM.
type Destination interface {
	PowerOn(ctx context.Context, vmID string) error
	PowerState(ctx context.Context, vmID string) (PowerState, error)
	// IPAddress returns the migrated VM's address, or "" when not yet known.
	IPAddress(ctx context.Context, vmID string) (string, error)
	ApplyRightSizing(ctx context.Context, vmID string) error
	SetAttributes(ctx context.Context, vmID string, attrs *VMAttributes) error
}
