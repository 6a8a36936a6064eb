package models

// ============================================================================
// Conflict Resolution
//
// A conflict exists when a pulled remote change targets an entity that still
// has unsynced local operations. Resolution is last-write-wins:
//
//   1. Higher version wins outright.
//   2. Equal versions: the later last_modified timestamp wins.
//   3. Exact tie: remote wins. The server is the tie-break authority.
// ============================================================================

// Stamp is the pair of values compared during resolution.
type Stamp struct {
	Version      int64 `json:"version"`
	LastModified int64 `json:"last_modified"`
}

// Resolution names the rule that decided a conflict.
type Resolution string

const (
	ResolutionRemoteVersion   Resolution = "remote_wins_version"
	ResolutionLocalVersion    Resolution = "local_wins_version"
	ResolutionRemoteTimestamp Resolution = "remote_wins_timestamp"
	ResolutionLocalTimestamp  Resolution = "local_wins_timestamp"
	ResolutionRemoteTie       Resolution = "remote_wins_tie"
)

// RemoteWins reports whether the remote change should be applied.
func (r Resolution) RemoteWins() bool {
	switch r {
	case ResolutionRemoteVersion, ResolutionRemoteTimestamp, ResolutionRemoteTie:
		return true
	}
	return false
}

// ResolveConflict decides between a pending local state and a remote change.
func ResolveConflict(local, remote Stamp) Resolution {
	switch {
	case remote.Version > local.Version:
		return ResolutionRemoteVersion
	case remote.Version < local.Version:
		return ResolutionLocalVersion
	case remote.LastModified > local.LastModified:
		return ResolutionRemoteTimestamp
	case remote.LastModified < local.LastModified:
		return ResolutionLocalTimestamp
	default:
		return ResolutionRemoteTie
	}
}
