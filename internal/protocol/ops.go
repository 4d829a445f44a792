package protocol

import "encoding/json"

// Op names. PROTOCOL_MIN/PROTOCOL_MAX bound every op except Probe, which is
// always invoked at protocol_version 0.
const (
	OpProbe        = "probe"
	OpReserve      = "reserve"
	OpRelease      = "release"
	OpSubmit       = "submit"
	OpStatus       = "status"
	OpTail         = "tail"
	OpCancel       = "cancel"
	OpHasSource    = "has_source"
	OpUploadSource = "upload_source"
	OpFetch        = "fetch"
)

// ProbeVersion is the fixed protocol_version every probe request must use.
const ProbeVersion = 0

// PROTOCOL_MIN and PROTOCOL_MAX bound every non-probe request.
const (
	ProtocolMin = 1
	ProtocolMax = 1
)

// JobState is the closed set of job lifecycle states (spec.md §4.6).
type JobState string

const (
	JobQueued          JobState = "QUEUED"
	JobRunning         JobState = "RUNNING"
	JobCancelRequested JobState = "CANCEL_REQUESTED"
	JobSucceeded       JobState = "SUCCEEDED"
	JobFailed          JobState = "FAILED"
	JobCancelled       JobState = "CANCELLED"
)

// Terminal reports whether a state has no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// XcodeInfo describes one installed Xcode toolchain (restored from
// original_source's probe.rs Capabilities shape).
type XcodeInfo struct {
	Build        string `json:"build"`
	Version      string `json:"version"`
	Path         string `json:"path"`
	SwiftVersion string `json:"swift_version,omitempty"`
}

// SimulatorRuntime describes one installed simulator runtime.
type SimulatorRuntime struct {
	Identifier string `json:"identifier"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
}

// Capacity describes current worker load, used by the host to schedule.
type Capacity struct {
	MaxConcurrentJobs int `json:"max_concurrent_jobs"`
	ActiveJobs        int `json:"active_jobs"`
}

// Capabilities is the full snapshot a worker reports in ProbeResponse.
type Capabilities struct {
	MacOSVersion string             `json:"macos_version"`
	MacOSBuild   string             `json:"macos_build"`
	Arch         string             `json:"arch"`
	Xcodes       []XcodeInfo        `json:"xcodes"`
	Simulators   []SimulatorRuntime `json:"simulators"`
	Capacity     Capacity           `json:"capacity"`
}

// ProbeRequest carries no fields beyond the envelope.
type ProbeRequest struct{}

// ProbeResponse answers a probe.
type ProbeResponse struct {
	ProtocolMin  int          `json:"protocol_min"`
	ProtocolMax  int          `json:"protocol_max"`
	Features     []string     `json:"features"`
	Capabilities Capabilities `json:"capabilities"`
}

// ReserveRequest asks for a capacity lease. IdentityToken, when the worker
// has an identity verifier configured, is a bearer token identifying the
// caller; the submit that later references this lease must present a token
// that is either unscoped or scoped to it.
type ReserveRequest struct {
	TTLSeconds    *uint32 `json:"ttl_seconds,omitempty"`
	IdentityToken string  `json:"identity_token,omitempty"`
}

// ReserveResponse grants (or refuses) a lease.
type ReserveResponse struct {
	LeaseID    string `json:"lease_id"`
	TTLSeconds uint32 `json:"ttl_seconds"`
}

// ReleaseRequest releases a previously reserved lease.
type ReleaseRequest struct {
	LeaseID string `json:"lease_id"`
}

// ReleaseResponse reports whether the lease was actually held.
type ReleaseResponse struct {
	Released bool `json:"released"`
}

// JobKeyInputs is the canonicalized, hashed input set that determines
// job_key (spec.md §3: job_key == sha256(JCS(job_key_inputs))).
type JobKeyInputs struct {
	SourceSHA256    string          `json:"source_sha256"`
	ToolchainKey    string          `json:"toolchain_key"`
	Action          string          `json:"action"`
	Destination     string          `json:"destination,omitempty"`
	EffectiveConfig JSONValue       `json:"effective_config"`
	CacheMode       CacheModes      `json:"cache_mode"`
}

// CacheModes names the cache mode selected for each cache family.
type CacheModes struct {
	DerivedData string `json:"derived_data"`
	Packages    string `json:"packages"`
}

// JSONValue is an opaque, already-canonical-izable JSON document; kept as
// json.RawMessage so JobKeyInputs can be hashed without double-decoding.
type JSONValue = json.RawMessage

// JobSpec is the full submission payload for submit. IdentityToken is the
// bearer token identifying the submitting backend, required when the
// worker is configured with both require_lease and an identity verifier;
// it must be scoped (if scoped at all) to LeaseID.
type JobSpec struct {
	JobID         string       `json:"job_id"`
	JobKey        string       `json:"job_key"`
	JobKeyInputs  JobKeyInputs `json:"job_key_inputs"`
	LeaseID       string       `json:"lease_id,omitempty"`
	IdentityToken string       `json:"identity_token,omitempty"`
}

// SubmitRequest wraps a JobSpec.
type SubmitRequest struct {
	Job JobSpec `json:"job"`
}

// SubmitResponse reports the accepted (or pre-existing, for idempotent
// resubmission) job state.
type SubmitResponse struct {
	JobID string   `json:"job_id"`
	State JobState `json:"state"`
}

// StatusRequest asks for a job's current state.
type StatusRequest struct {
	JobID string `json:"job_id"`
}

// FailureInfo classifies a terminal job failure without becoming an RPC
// error (spec.md §7 layer 3: execution failures are data, not protocol
// errors).
type FailureInfo struct {
	Kind    string `json:"kind"`
	Subkind string `json:"subkind,omitempty"`
	Message string `json:"message"`
}

// StatusResponse reports a job's current lifecycle state.
type StatusResponse struct {
	JobID         string       `json:"job_id"`
	State         JobState     `json:"state"`
	Failure       *FailureInfo `json:"failure,omitempty"`
	ArtifactsPath string       `json:"artifacts_path,omitempty"`
	XCResultPath  string       `json:"xcresult_path,omitempty"`
}

// TailRequest asks for a window of the job's build log.
type TailRequest struct {
	JobID    string `json:"job_id"`
	Cursor   uint64 `json:"cursor"`
	MaxBytes uint64 `json:"max_bytes,omitempty"`
}

// TailResponse returns a chunk and the cursor to resume from. NextCursor is
// nil once the job is terminal and the chunk reaches end of log.
type TailResponse struct {
	Data       []byte  `json:"data"`
	NextCursor *uint64 `json:"next_cursor,omitempty"`
	EOF        bool    `json:"eof"`
}

// CancelRequest requests cooperative cancellation.
type CancelRequest struct {
	JobID string `json:"job_id"`
}

// CancelResponse reports the resulting state. Acknowledged is false when
// the job was already terminal (a no-op, not an error).
type CancelResponse struct {
	State        JobState `json:"state"`
	Acknowledged bool     `json:"acknowledged"`
}

// HasSourceRequest asks whether a source bundle is already stored.
type HasSourceRequest struct {
	SourceSHA256 string `json:"source_sha256"`
}

// HasSourceResponse answers has_source.
type HasSourceResponse struct {
	Present bool `json:"present"`
}

// UploadSourceRequest precedes a binary stream frame carrying the bundle.
type UploadSourceRequest struct {
	SourceSHA256 string `json:"source_sha256"`
}

// UploadSourceResponse acknowledges a completed upload. UploadID/NextOffset
// are reserved for future resumable uploads (restored from
// original_source's upload_source.rs; the core always uploads in a single
// frame, and the upload_source handler leaves both fields unset).
type UploadSourceResponse struct {
	SourceSHA256 string  `json:"source_sha256"`
	UploadID     string  `json:"upload_id,omitempty"`
	NextOffset   *uint64 `json:"next_offset,omitempty"`
	AlreadyHad   bool    `json:"already_had"`
}

// FetchRequest asks for an artifact bundle for a completed job.
type FetchRequest struct {
	JobID string `json:"job_id"`
}

// FetchResponse precedes a binary stream frame carrying the artifact
// bundle tar.
type FetchResponse struct {
	JobID string `json:"job_id"`
}
