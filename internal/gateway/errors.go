package gateway

// ConfigReadError means the shared configuration could not be read. The
// daemon exits with status 12 on this.
type ConfigReadError struct {
	Err error
}

func (e ConfigReadError) Error() string {
	return "unable to read the shared configuration: " + e.Err.Error()
}

func (e ConfigReadError) Unwrap() error {
	return e.Err
}

// DeviceAttachError means a disk's backing device could not be attached or
// did not appear. Fatal during reconciliation, exit status 16.
type DeviceAttachError struct {
	Disk string
	Err  error
}

func (e DeviceAttachError) Error() string {
	return "device for disk " + e.Disk + " is not available: " + e.Err.Error()
}

func (e DeviceAttachError) Unwrap() error {
	return e.Err
}

// TargetLibraryError means a target-management call failed. Fatal during
// reconciliation, exit status 16.
type TargetLibraryError struct {
	Phase string
	Err   error
}

func (e TargetLibraryError) Error() string {
	return "target " + e.Phase + " phase failed: " + e.Err.Error()
}

func (e TargetLibraryError) Unwrap() error {
	return e.Err
}
