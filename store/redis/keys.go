package redis

// Redis key naming conventions for spool data.
// All keys are prefixed with "spool:" to avoid collisions.

const keyPrefix = "spool:"

// jobKey returns the key for a job entity: spool:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// readyKey is the Sorted Set of eligible queued jobs, scored by dispatch
// order (priority band, then submission time).
const readyKey = keyPrefix + "ready"

// delayedKey is the Sorted Set of queued jobs waiting out their
// AvailableAt, scored by availability in unix milliseconds. Due members are
// promoted into the ready set at acquire time.
const delayedKey = keyPrefix + "delayed"

// leasesKey is the Sorted Set of active jobs, scored by lease expiry in
// unix milliseconds.
const leasesKey = keyPrefix + "leases"

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"
