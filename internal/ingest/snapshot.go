package ingest

import (
	"sort"
	"strings"

	"github.com/ez3davatars/A360-Aging-UI/internal/events"
	"github.com/ez3davatars/A360-Aging-UI/internal/resolve"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
)

// SlotView is a point-in-time snapshot of one slot for status queries.
type SlotView struct {
	SubjectID     string        `json:"subject_id"`
	Age           int           `json:"age"`
	Image         string        `json:"image"`
	Status        events.Status `json:"status"`
	SourcePath    string        `json:"source_path,omitempty"`
	CanonicalPath string        `json:"canonical_path,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	UpdatedUTC    string        `json:"updated_utc,omitempty"`
}

// Snapshot returns every slot the machine has touched this session, sorted
// by subject then age.
func (g *Ingestor) Snapshot() []SlotView {
	g.mu.Lock()
	out := make([]SlotView, 0, len(g.slots))
	for slot, st := range g.slots {
		out = append(out, viewOf(slot, st))
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].Age < out[j].Age
	})
	return out
}

// SubjectSlots returns all timeline slots for one subject, padding ages the
// machine has never seen with WAITING entries.
func (g *Ingestor) SubjectSlots(subjectID string) []SlotView {
	id := subjectID
	if canonical, _, _, err := subject.ParseID(subjectID); err == nil {
		id = canonical
	} else {
		id = strings.ToUpper(strings.TrimSpace(subjectID))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]SlotView, 0, len(resolve.Ages))
	for _, age := range resolve.Ages {
		slot := resolve.Slot{SubjectID: id, Age: age}
		if st, ok := g.slots[slot]; ok {
			out = append(out, viewOf(slot, st))
			continue
		}
		out = append(out, SlotView{
			SubjectID: id,
			Age:       age,
			Image:     resolve.AgeLabel(age),
			Status:    events.StatusWaiting,
		})
	}
	return out
}

// StoredCount reports how many of a subject's slots are STORED in memory.
func (g *Ingestor) StoredCount(subjectID string) int {
	n := 0
	for _, v := range g.SubjectSlots(subjectID) {
		if v.Status == events.StatusStored {
			n++
		}
	}
	return n
}

func viewOf(slot resolve.Slot, st *slotState) SlotView {
	return SlotView{
		SubjectID:     slot.SubjectID,
		Age:           slot.Age,
		Image:         resolve.AgeLabel(slot.Age),
		Status:        st.status,
		SourcePath:    st.sourcePath,
		CanonicalPath: st.canonical,
		Reason:        st.reason,
		UpdatedUTC:    st.updated,
	}
}
