package task

import "github.com/gridforge/gridforge/internal/persist"

// baseWire is the common envelope body every concrete Task's EncodeBody
// embeds alongside its own fields. Cancel is persisted so a process
// restarting mid-cancellation (§4.5) still acts on it next sweep.
type baseWire struct {
	JobName  string               `json:"job_name,omitempty"`
	ParentID persist.ID           `json:"parent_id,omitempty"`
	Cancel   bool                 `json:"cancel_requested,omitempty"`
	Run      *Run                 `json:"run"`
}

func (t *BaseTask) encodeBase() baseWire {
	return baseWire{
		JobName:  t.jobName,
		ParentID: t.parentID,
		Cancel:   t.cancel,
		Run:      t.run,
	}
}

// decodeBase restores BaseTask's own fields from w and rebinds self for
// hook dispatch. Concrete DecodeBody implementations in this package call
// this first.
func (t *BaseTask) decodeBase(self Task, w baseWire) {
	t.jobName = w.JobName
	t.parentID = w.ParentID
	t.cancel = w.Cancel
	run := w.Run
	if run == nil {
		run = NewRun()
	}
	t.Init(self, run)
}

// RestoreIdentity sets jobName/parentID/cancel without flipping Changed,
// for use by DecodeBody implementations outside this package (which have
// no access to BaseTask's unexported fields and would otherwise have to
// use SetJobName/SetParentID/RequestCancel, each of which marks the Task
// changed — wrong immediately after a Load).
func (t *BaseTask) RestoreIdentity(jobName string, parentID persist.ID, cancel bool) {
	t.jobName = jobName
	t.parentID = parentID
	t.cancel = cancel
}
