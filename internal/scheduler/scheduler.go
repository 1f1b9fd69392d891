// Package scheduler runs one-shot delayed jobs.
//
// Each job fires at most once. A job that is scheduled again while still
// pending is ignored.
package scheduler

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// ErrClosed is returned when scheduling on a stopped scheduler.
var ErrClosed = errors.New("scheduler closed")

// Job identifies delayed work. Key is the owning entity, Ref the resource the
// job acts on, and Attempt counts re-schedules of the same work.
type Job struct {
	Key     string
	Ref     string
	Attempt int
}

// ID is the job's identity for de-duplication.
func (j Job) ID() string {
	return strings.Join([]string{j.Key, j.Ref, strconv.Itoa(j.Attempt)}, "|")
}

// ParseJob decodes a value produced by Job.ID.
func ParseJob(s string) (Job, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return Job{}, errors.Errorf("malformed job %q", s)
	}
	attempt, err := strconv.Atoi(parts[2])
	if err != nil {
		return Job{}, errors.Wrapf(err, "job %q attempt", s)
	}
	return Job{Key: parts[0], Ref: parts[1], Attempt: attempt}, nil
}

// Handler executes a due job. The context is not tied to the request that
// scheduled the job.
type Handler func(ctx context.Context, job Job)
