package hashing

// TombstoneHash computes deletion_hash = hash_dict({original_hash,
// deletion_timestamp, deleted_by, reason, type:"TOMBSTONE"}). Accepts an
// already-JSON-tagged payload struct (or map) rather than positional
// strings so callers can't transpose arguments.
func TombstoneHash(payload any) (string, error) {
	return HashDict(payload)
}
