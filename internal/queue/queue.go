// Package queue enqueues document-processing jobs and reads queue depth.
//
// The wire format is Bull-compatible so the existing worker fleet consumes
// jobs unchanged: each job is a redis hash at bull:<queue>:<jobID> plus its
// ID pushed onto bull:<queue>:wait, with bull:<queue>:id as the counter.
// Job execution is out of scope here; only enqueue and statistics are.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// DefaultQueueName matches the worker fleet's queue.
const DefaultQueueName = "document-processing"

// JobProcessDocument is the job name the document worker consumes.
const JobProcessDocument = "process-document"

// states tracked by Stats, in reporting order.
var states = []string{"wait", "active", "completed", "failed"}

// ProcessDocumentPayload is the job data for a process-document job.
// Field names match the worker's expectations.
type ProcessDocumentPayload struct {
	DocumentID     uuid.UUID `json:"documentId"`
	StorageKey     string    `json:"filePath"`
	FileName       string    `json:"fileName"`
	OrganizationID uuid.UUID `json:"organizationId"`
	UserID         string    `json:"userId"`
}

// jobOpts mirrors the retry options the worker fleet runs with.
type jobOpts struct {
	Attempts         int        `json:"attempts"`
	Backoff          jobBackoff `json:"backoff"`
	RemoveOnComplete int        `json:"removeOnComplete"`
	RemoveOnFail     int        `json:"removeOnFail"`
}

type jobBackoff struct {
	Type  string `json:"type"`
	Delay int    `json:"delay"`
}

// Stats is the queue depth by state.
type Stats struct {
	Wait      int64 `json:"wait"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue writes jobs for one named Bull queue.
type Queue struct {
	client *redis.Client
	name   string

	// now is injectable for tests
	now func() time.Time
}

// New pings redis so a bad address fails startup.
func New(client *redis.Client, name string) (*Queue, error) {
	if name == "" {
		name = DefaultQueueName
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Wrap(err, "queue: redis ping")
	}

	return &Queue{client: client, name: name, now: time.Now}, nil
}

func (q *Queue) key(suffix string) string {
	return "bull:" + q.name + ":" + suffix
}

// EnqueueProcessDocument adds a process-document job and returns its job ID.
// INCR the counter, HSET the job hash, LPUSH the ID onto wait, matching
// the writes the worker fleet's producers make.
func (q *Queue) EnqueueProcessDocument(ctx context.Context, payload ProcessDocumentPayload) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, xerrors.Wrap(err, "queue: marshal payload")
	}
	opts, err := json.Marshal(jobOpts{
		Attempts:         3,
		Backoff:          jobBackoff{Type: "exponential", Delay: 5000},
		RemoveOnComplete: 100,
		RemoveOnFail:     50,
	})
	if err != nil {
		return 0, xerrors.Wrap(err, "queue: marshal opts")
	}

	jobID, err := q.client.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return 0, xerrors.Wrap(err, "queue: next job id")
	}

	id := strconv.FormatInt(jobID, 10)
	timestamp := strconv.FormatInt(q.now().UnixMilli(), 10)

	// Hash and wait-list land in one MULTI/EXEC so a half-written job
	// never leaks: either the workers can see it or nothing was written.
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.key(id), map[string]interface{}{
		"id":        id,
		"name":      JobProcessDocument,
		"data":      string(data),
		"opts":      string(opts),
		"timestamp": timestamp,
		"delay":     "0",
		"priority":  "0",
	})
	pipe.LPush(ctx, q.key("wait"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, xerrors.Wrapf(err, "queue: write job %s", id)
	}

	return jobID, nil
}

// Stats reads the depth of each state list.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	for _, state := range states {
		n, err := q.client.LLen(ctx, q.key(state)).Result()
		if err != nil {
			return Stats{}, xerrors.Wrapf(err, "queue: llen %s", state)
		}
		switch state {
		case "wait":
			out.Wait = n
		case "active":
			out.Active = n
		case "completed":
			out.Completed = n
		case "failed":
			out.Failed = n
		}
	}
	return out, nil
}

// Depths returns the stats as a state-keyed map, for the metrics gauges.
func (s Stats) Depths() map[string]int64 {
	return map[string]int64{
		"wait":      s.Wait,
		"active":    s.Active,
		"completed": s.Completed,
		"failed":    s.Failed,
	}
}
