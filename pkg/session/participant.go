package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/vulu-live/liveconn/pkg/provider"
)

// Participant is a remote member of the channel. Roster entries are only ever
// mutated by the session event loop, in provider emission order.
type Participant struct {
	UID        uint32
	Identity   string
	Role       provider.Role
	Muted      bool
	Speaking   bool
	AudioLevel uint8
	JoinedAt   time.Time
}

type roster struct {
	lock         sync.RWMutex
	participants map[uint32]*Participant
	onChanged    func(count int)
}

func newRoster(onChanged func(count int)) *roster {
	return &roster{
		participants: make(map[uint32]*Participant),
		onChanged:    onChanged,
	}
}

func (r *roster) add(uid uint32, joinedAt time.Time) {
	r.lock.Lock()
	if _, ok := r.participants[uid]; ok {
		r.lock.Unlock()
		return
	}
	r.participants[uid] = &Participant{
		UID:      uid,
		Identity: fmt.Sprintf("user-%d", uid),
		JoinedAt: joinedAt,
	}
	count := len(r.participants)
	r.lock.Unlock()

	r.onChanged(count)
}

func (r *roster) remove(uid uint32) {
	r.lock.Lock()
	if _, ok := r.participants[uid]; !ok {
		r.lock.Unlock()
		return
	}
	delete(r.participants, uid)
	count := len(r.participants)
	r.lock.Unlock()

	r.onChanged(count)
}

// updateVolumes applies a volume-indication report in place. speakingLevel is
// the threshold above which a participant counts as speaking; participants
// absent from the report keep their previous level.
func (r *roster) updateVolumes(speakers []provider.AudioVolume, speakingLevel uint8) {
	r.lock.Lock()
	for _, sp := range speakers {
		p, ok := r.participants[sp.UID]
		if !ok {
			continue
		}
		p.AudioLevel = sp.Level
		p.Speaking = sp.Level >= speakingLevel
	}
	count := len(r.participants)
	r.lock.Unlock()

	r.onChanged(count)
}

func (r *roster) setMuted(uid uint32, muted bool) {
	r.lock.Lock()
	p, ok := r.participants[uid]
	if !ok || p.Muted == muted {
		r.lock.Unlock()
		return
	}
	p.Muted = muted
	count := len(r.participants)
	r.lock.Unlock()

	r.onChanged(count)
}

func (r *roster) snapshot() []Participant {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

func (r *roster) count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.participants)
}

func (r *roster) clear() {
	r.lock.Lock()
	r.participants = make(map[uint32]*Participant)
	r.lock.Unlock()

	r.onChanged(0)
}
