package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/spoolq/spool"
	"github.com/spoolq/spool/id"
	"github.com/spoolq/spool/job"
)

// Script result markers shared by the ownership-checked mutations.
const (
	resOK        = "ok"
	resNotFound  = "not_found"
	resLeaseLost = "lease_lost"
)

// ownershipCheck is the Lua preamble every lease-checked mutation starts
// with: the state and lease-owner test and the mutation must be one atomic
// unit, otherwise a reclaim could interleave between check and write.
const ownershipCheck = `
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return 'not_found' end
if state ~= 'active' or redis.call('HGET', KEYS[1], 'lease_owner') ~= ARGV[1] then
  return 'lease_lost'
end
`

// enqueueScript inserts the job only when its ID is unused; the existence
// check and the insert are one atomic step, so concurrent submissions of
// the same ID cannot both pass the check.
// KEYS: job, jobIDs, delayed. ARGV: jobID, availMs, then field/value pairs.
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 'duplicate' end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[1])
return 'ok'
`)

// acquireScript promotes due delayed jobs into the ready set, pops the
// lowest-score ready member, and claims it in one atomic step.
// KEYS: ready, delayed, leases. ARGV: nowMs, workerID, leaseExpMs, nowRFC,
// jobKeyPrefix.
var acquireScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, jid in ipairs(due) do
  local score = redis.call('HGET', ARGV[5] .. jid, 'score')
  if score then
    redis.call('ZADD', KEYS[1], tonumber(score), jid)
  end
  redis.call('ZREM', KEYS[2], jid)
end
local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then return false end
local jid = popped[1]
local key = ARGV[5] .. jid
redis.call('HSET', key,
  'state', 'active',
  'lease_owner', ARGV[2],
  'lease_expires_ms', ARGV[3],
  'started_at', ARGV[4],
  'progress', '0',
  'updated_at', ARGV[4])
redis.call('HINCRBY', key, 'attempts', 1)
redis.call('ZADD', KEYS[3], tonumber(ARGV[3]), jid)
return jid
`)

// KEYS: job, leases. ARGV: owner, result, lastError, nowRFC, jobID.
var completeScript = goredis.NewScript(ownershipCheck + `
redis.call('HSET', KEYS[1],
  'state', 'completed',
  'result', ARGV[2],
  'last_error', ARGV[3],
  'progress', '100',
  'finished_at', ARGV[4],
  'updated_at', ARGV[4])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_expires_ms')
redis.call('ZREM', KEYS[2], ARGV[5])
return 'ok'
`)

// KEYS: job, leases, delayed. ARGV: owner, availMs, availRFC, lastError,
// nowRFC, jobID.
var requeueScript = goredis.NewScript(ownershipCheck + `
redis.call('HSET', KEYS[1],
  'state', 'queued',
  'available_ms', ARGV[2],
  'available_at', ARGV[3],
  'last_error', ARGV[4],
  'progress', '0',
  'cancel_requested', '0',
  'updated_at', ARGV[5])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_expires_ms')
redis.call('ZREM', KEYS[2], ARGV[6])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[6])
return 'ok'
`)

// releaseScript is requeue plus the attempt rollback for admission-control
// handbacks. KEYS: job, leases, delayed. ARGV: owner, availMs, availRFC,
// nowRFC, jobID.
var releaseScript = goredis.NewScript(ownershipCheck + `
redis.call('HSET', KEYS[1],
  'state', 'queued',
  'available_ms', ARGV[2],
  'available_at', ARGV[3],
  'progress', '0',
  'updated_at', ARGV[4])
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0')
if attempts > 0 then
  redis.call('HINCRBY', KEYS[1], 'attempts', -1)
end
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_expires_ms', 'started_at')
redis.call('ZREM', KEYS[2], ARGV[5])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[5])
return 'ok'
`)

// KEYS: job, leases. ARGV: owner, lastError, nowRFC, jobID.
var failScript = goredis.NewScript(ownershipCheck + `
redis.call('HSET', KEYS[1],
  'state', 'failed',
  'last_error', ARGV[2],
  'finished_at', ARGV[3],
  'updated_at', ARGV[3])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_expires_ms')
redis.call('ZREM', KEYS[2], ARGV[4])
return 'ok'
`)

// KEYS: job, leases. ARGV: owner, nowRFC, jobID.
var markCancelledScript = goredis.NewScript(ownershipCheck + `
redis.call('HSET', KEYS[1],
  'state', 'cancelled',
  'finished_at', ARGV[2],
  'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_expires_ms')
redis.call('ZREM', KEYS[2], ARGV[3])
return 'ok'
`)

// KEYS: job, leases. ARGV: owner, leaseExpMs, nowRFC, jobID.
var renewScript = goredis.NewScript(ownershipCheck + `
redis.call('HSET', KEYS[1], 'lease_expires_ms', ARGV[2], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[4])
return 'ok'
`)

// KEYS: job. ARGV: owner, progress, nowRFC.
var progressScript = goredis.NewScript(ownershipCheck + `
redis.call('HSET', KEYS[1], 'progress', ARGV[2], 'updated_at', ARGV[3])
return 'ok'
`)

// KEYS: job, ready, delayed. ARGV: nowRFC, jobID.
var requestCancelScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return 'not_found' end
if state == 'queued' then
  redis.call('HSET', KEYS[1],
    'state', 'cancelled',
    'finished_at', ARGV[1],
    'updated_at', ARGV[1])
  redis.call('ZREM', KEYS[2], ARGV[2])
  redis.call('ZREM', KEYS[3], ARGV[2])
  return 'immediate'
elseif state == 'active' then
  redis.call('HSET', KEYS[1], 'cancel_requested', '1', 'updated_at', ARGV[1])
  return 'advisory'
else
  return 'invalid'
end
`)

// KEYS: leases, delayed. ARGV: nowMs, nowRFC, jobKeyPrefix.
var reclaimScript = goredis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, jid in ipairs(expired) do
  local key = ARGV[3] .. jid
  local attempts = tonumber(redis.call('HGET', key, 'attempts') or '0')
  local max = tonumber(redis.call('HGET', key, 'max_attempts') or '0')
  if attempts >= max then
    redis.call('HSET', key,
      'state', 'failed',
      'last_error', 'lease expired on final attempt',
      'finished_at', ARGV[2],
      'updated_at', ARGV[2])
  else
    redis.call('HSET', key,
      'state', 'queued',
      'available_ms', ARGV[1],
      'available_at', ARGV[2],
      'last_error', 'lease expired',
      'progress', '0',
      'cancel_requested', '0',
      'updated_at', ARGV[2])
    redis.call('ZADD', KEYS[2], tonumber(ARGV[1]), jid)
  end
  redis.call('HDEL', key, 'lease_owner', 'lease_expires_ms')
  redis.call('ZREM', KEYS[1], jid)
end
return expired
`)

// Enqueue stores the job as a Hash and schedules it on the delayed set.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	fields := jobToMap(j)
	fields["score"] = strconv.FormatFloat(dispatchScore(j.Priority, j.SubmittedAt), 'f', -1, 64)

	args := make([]interface{}, 0, 2+2*len(fields))
	args = append(args, jID, j.AvailableAt.UnixMilli())
	for k, v := range fields {
		args = append(args, k, v)
	}

	res, err := enqueueScript.Run(ctx, s.client,
		[]string{jobKey(jID), jobIDsKey, delayedKey}, args...,
	).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: enqueue job: %w", err)
	}
	if marker, _ := res.(string); marker == "duplicate" {
		return spool.ErrDuplicateID
	}
	return nil
}

// Acquire atomically claims the next eligible job for workerID.
func (s *Store) Acquire(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	res, err := acquireScript.Run(ctx, s.client,
		[]string{readyKey, delayedKey, leasesKey},
		now.UnixMilli(),
		workerID.String(),
		now.Add(ttl).UnixMilli(),
		now.Format(time.RFC3339Nano),
		keyPrefix+"job:",
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("spool/redis: acquire: %w", err)
	}

	jID, ok := res.(string)
	if !ok || jID == "" {
		return nil, nil
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// Release returns a job to the queue without counting the attempt.
func (s *Store) Release(ctx context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	avail := now.Add(delay)
	res, err := releaseScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasesKey, delayedKey},
		owner.String(),
		avail.UnixMilli(),
		avail.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		jobID.String(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: release: %w", err)
	}
	if err := scriptResult(res, "release"); err != nil {
		return nil, err
	}
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// Renew extends the lease expiry if owner still holds the lease.
func (s *Store) Renew(ctx context.Context, jobID id.JobID, owner id.WorkerID, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := renewScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasesKey},
		owner.String(),
		now.Add(ttl).UnixMilli(),
		now.Format(time.RFC3339Nano),
		jobID.String(),
	).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: renew: %w", err)
	}
	return scriptResult(res, "renew")
}

// SetProgress records handler progress for the lease holder.
func (s *Store) SetProgress(ctx context.Context, jobID id.JobID, owner id.WorkerID, progress int) error {
	res, err := progressScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		owner.String(),
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: set progress: %w", err)
	}
	return scriptResult(res, "set progress")
}

// Complete settles the job as completed with a result payload.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, owner id.WorkerID, result []byte, lastError string) (*job.Job, error) {
	res, err := completeScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasesKey},
		owner.String(),
		string(result),
		lastError,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID.String(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: complete: %w", err)
	}
	if err := scriptResult(res, "complete"); err != nil {
		return nil, err
	}
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// Requeue returns a failed attempt to the queue with a backoff delay.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID, owner id.WorkerID, delay time.Duration, lastError string) (*job.Job, error) {
	now := time.Now().UTC()
	avail := now.Add(delay)
	res, err := requeueScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasesKey, delayedKey},
		owner.String(),
		avail.UnixMilli(),
		avail.Format(time.RFC3339Nano),
		lastError,
		now.Format(time.RFC3339Nano),
		jobID.String(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: requeue: %w", err)
	}
	if err := scriptResult(res, "requeue"); err != nil {
		return nil, err
	}
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// Fail settles the job as terminally failed.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, owner id.WorkerID, lastError string) (*job.Job, error) {
	res, err := failScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasesKey},
		owner.String(),
		lastError,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID.String(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: fail: %w", err)
	}
	if err := scriptResult(res, "fail"); err != nil {
		return nil, err
	}
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// MarkCancelled settles an active job as cancelled.
func (s *Store) MarkCancelled(ctx context.Context, jobID id.JobID, owner id.WorkerID) (*job.Job, error) {
	res, err := markCancelledScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasesKey},
		owner.String(),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID.String(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: mark cancelled: %w", err)
	}
	if err := scriptResult(res, "mark cancelled"); err != nil {
		return nil, err
	}
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// RequestCancel cancels a queued job immediately or flags an active one.
func (s *Store) RequestCancel(ctx context.Context, jobID id.JobID) (*job.Job, bool, error) {
	res, err := requestCancelScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), readyKey, delayedKey},
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID.String(),
	).Result()
	if err != nil {
		return nil, false, fmt.Errorf("spool/redis: request cancel: %w", err)
	}

	marker, _ := res.(string)
	switch marker {
	case "immediate", "advisory":
	case resNotFound:
		return nil, false, spool.ErrNotFound
	default:
		return nil, false, fmt.Errorf("cancel settled job: %w", spool.ErrInvalidState)
	}

	j, err := s.getJobByKey(ctx, jobKey(jobID.String()))
	if err != nil {
		return nil, false, err
	}
	return j, marker == "immediate", nil
}

// ReclaimExpired requeues (or terminally fails) every active job whose
// lease has expired, and returns them in their post-transition state.
func (s *Store) ReclaimExpired(ctx context.Context) ([]*job.Job, error) {
	now := time.Now().UTC()
	res, err := reclaimScript.Run(ctx, s.client,
		[]string{leasesKey, delayedKey},
		now.UnixMilli(),
		now.Format(time.RFC3339Nano),
		keyPrefix+"job:",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: reclaim expired: %w", err)
	}

	ids, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, raw := range ids {
		jID, ok := raw.(string)
		if !ok {
			continue
		}
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// List returns jobs matching the given state, ordered by submission time.
func (s *Store) List(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		jobs = append(jobs, j)
	}

	sortBySubmission(jobs)

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("spool/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeFinished removes terminal jobs that finished before the given time.
func (s *Store) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("spool/redis: purge smembers: %w", err)
	}

	var purged int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if !j.State.Terminal() {
			continue
		}
		if j.FinishedAt == nil || !j.FinishedAt.Before(before) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, jobKey(jID))
		pipe.SRem(ctx, jobIDsKey, jID)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("spool/redis: purge job: %w", err)
		}
		purged++
	}
	return purged, nil
}

// ── helpers ──

// scriptResult maps the string markers returned by the ownership-checked
// scripts to sentinel errors.
func scriptResult(res interface{}, op string) error {
	marker, _ := res.(string)
	switch marker {
	case resOK:
		return nil
	case resNotFound:
		return spool.ErrNotFound
	case resLeaseLost:
		return spool.ErrLeaseLost
	default:
		return fmt.Errorf("spool/redis: %s: unexpected script result %v", op, res)
	}
}

// priorityBand separates priorities in the ready-set score. A 2^42 band
// keeps priority*band + milliseconds within float64's 53-bit integer
// mantissa: exact for priorities in [0, 2047] and timestamps through
// ~2109. Larger priorities still order by band but can lose millisecond
// FIFO precision.
const priorityBand = 1 << 42

// dispatchScore orders the ready set: lower priority value first, FIFO by
// submission time within a band. The priority band dominates the
// millisecond component.
func dispatchScore(priority int, submittedAt time.Time) float64 {
	return float64(priority)*priorityBand + float64(submittedAt.UnixMilli())
}

func sortBySubmission(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].SubmittedAt.Equal(jobs[k].SubmittedAt) {
			return jobs[i].SubmittedAt.Before(jobs[k].SubmittedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":               j.ID.String(),
		"type":             j.Type,
		"payload":          string(j.Payload),
		"state":            string(j.State),
		"priority":         strconv.Itoa(j.Priority),
		"attempts":         strconv.Itoa(j.Attempts),
		"max_attempts":     strconv.Itoa(j.MaxAttempts),
		"progress":         strconv.Itoa(j.Progress),
		"last_error":       j.LastError,
		"result":           string(j.Result),
		"trace_context":    j.TraceContext,
		"cancel_requested": boolField(j.CancelRequested),
		"available_at":     j.AvailableAt.Format(time.RFC3339Nano),
		"available_ms":     strconv.FormatInt(j.AvailableAt.UnixMilli(), 10),
		"submitted_at":     j.SubmittedAt.Format(time.RFC3339Nano),
		"updated_at":       j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !j.LeaseOwner.IsNil() {
		m["lease_owner"] = j.LeaseOwner.String()
	}
	if j.LeaseExpiresAt != nil {
		m["lease_expires_ms"] = strconv.FormatInt(j.LeaseExpiresAt.UnixMilli(), 10)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, spool.ErrNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("spool/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])        //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])        //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])        //nolint:errcheck // best-effort parse from trusted Redis data

	availableAt, _ := time.Parse(time.RFC3339Nano, m["available_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	submittedAt, _ := time.Parse(time.RFC3339Nano, m["submitted_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])     //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:              jID,
		Type:            m["type"],
		Payload:         []byte(m["payload"]),
		State:           job.State(m["state"]),
		Priority:        priority,
		Attempts:        attempts,
		MaxAttempts:     maxAttempts,
		Progress:        progress,
		LastError:       m["last_error"],
		TraceContext:    m["trace_context"],
		CancelRequested: m["cancel_requested"] == "1",
		AvailableAt:     availableAt,
		SubmittedAt:     submittedAt,
		UpdatedAt:       updatedAt,
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}
	if v := m["lease_owner"]; v != "" {
		j.LeaseOwner, _ = id.ParseWorkerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["lease_expires_ms"]; v != "" {
		ms, _ := strconv.ParseInt(v, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
		t := time.UnixMilli(ms).UTC()
		j.LeaseExpiresAt = &t
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	return j, nil
}
