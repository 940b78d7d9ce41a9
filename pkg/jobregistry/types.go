package jobregistry

import (
	"encoding/hex"
	"sort"

	"github.com/google/uuid"
)

// TimeLayout is the on-disk format of Job.Start and Job.End (local time,
// second precision).
//
// NOTE: This layout is part of the on-disk format other tools read from the
// same registry file. The file is written with keys sorted at every level.
const TimeLayout = "2006-01-02 15:04:05"

// Job is one registered experiment job as persisted in the registry file.
//
// The shape is fixed so consumers never have to guard against missing keys.
// End is a pointer because the document allows `null`. Fields are declared
// in key order so records encode with sorted keys.
type Job struct {
	Cmd       string  `json:"cmd" yaml:"cmd"`
	End       *string `json:"end" yaml:"end"`
	Exclusive bool    `json:"exclusive" yaml:"exclusive"`
	Msg       string  `json:"msg" yaml:"msg"`
	Numa      string  `json:"numa,omitempty" yaml:"numa,omitempty"`
	PID       int     `json:"pid" yaml:"pid"`
	Start     string  `json:"start" yaml:"start"`
	User      string  `json:"user" yaml:"user"`
}

// Jobs is the whole registry document, keyed by job id.
type Jobs map[string]Job

// HasExclusive reports whether any job holds exclusive access, returning its id.
func (js Jobs) HasExclusive() (string, bool) {
	for id, j := range js {
		if j.Exclusive {
			return id, true
		}
	}
	return "", false
}

// IDs returns the job ids ordered by start time, oldest first, then by id.
// TimeLayout sorts lexically in time order.
func (js Jobs) IDs() []string {
	ids := make([]string, 0, len(js))
	for id := range js {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := js[ids[i]].Start, js[ids[j]].Start
		if a != b {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Users returns the distinct users owning jobs, in first-seen id order.
func (js Jobs) Users() []string {
	seen := make(map[string]struct{}, len(js))
	out := make([]string, 0, len(js))
	for _, id := range js.IDs() {
		u := js[id].User
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Patch is a field mask over Job. Nil fields are left untouched by Apply.
type Patch struct {
	User      *string
	Start     *string
	End       *string
	Cmd       *string
	Msg       *string
	Exclusive *bool
	PID       *int
	Numa      *string
}

// Apply merges the non-nil fields of p into j.
func (p Patch) Apply(j *Job) {
	if p.User != nil {
		j.User = *p.User
	}
	if p.Start != nil {
		j.Start = *p.Start
	}
	if p.End != nil {
		end := *p.End
		j.End = &end
	}
	if p.Cmd != nil {
		j.Cmd = *p.Cmd
	}
	if p.Msg != nil {
		j.Msg = *p.Msg
	}
	if p.Exclusive != nil {
		j.Exclusive = *p.Exclusive
	}
	if p.PID != nil {
		j.PID = *p.PID
	}
	if p.Numa != nil {
		j.Numa = *p.Numa
	}
}

// PatchFromJob returns a Patch that sets every field of j.
func PatchFromJob(j Job) Patch {
	p := Patch{
		User:      &j.User,
		Start:     &j.Start,
		Cmd:       &j.Cmd,
		Msg:       &j.Msg,
		Exclusive: &j.Exclusive,
		PID:       &j.PID,
	}
	if j.End != nil {
		end := *j.End
		p.End = &end
	}
	if j.Numa != "" {
		p.Numa = &j.Numa
	}
	return p
}

// NewJobID returns a random 128-bit id as 32 lowercase hex characters.
func NewJobID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
