package pipeline

import "horse.fit/narrative/internal/globaltime"

// Status is the worker view served by the ops API.
type Status struct {
	WorkerID  string         `json:"worker_id"`
	Running   bool           `json:"running"`
	Cycles    int64          `json:"cycles"`
	Processed int64          `json:"processed"`
	Failed    int64          `json:"failed"`
	Deleted   int64          `json:"deleted"`
	LastCycle *Cycle         `json:"last_cycle,omitempty"`
	Outcomes  map[string]int `json:"outcomes"`
}

func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := d.status
	out.Outcomes = make(map[string]int, len(d.status.Outcomes))
	for k, v := range d.status.Outcomes {
		out.Outcomes[k] = v
	}
	if d.status.LastCycle != nil {
		last := *d.status.LastCycle
		out.LastCycle = &last
	}
	return out
}

func (d *Driver) record(cycle Cycle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cycle.FinishedAt.IsZero() {
		cycle.FinishedAt = globaltime.UTC()
	}
	d.status.Cycles++
	if d.status.Outcomes == nil {
		d.status.Outcomes = make(map[string]int)
	}
	d.status.Outcomes[string(cycle.Outcome)]++
	switch cycle.Outcome {
	case OutcomeAnalyzed, OutcomeDuplicate:
		d.status.Processed++
	case OutcomeFailed:
		d.status.Failed++
	case OutcomeDeleted:
		d.status.Deleted++
	}
	d.status.LastCycle = &cycle
}

func (d *Driver) setRunning(running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Running = running
}
