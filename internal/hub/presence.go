package hub

import "sync"

// VoiceState is a user's ephemeral voice-channel state. It is never
// persisted; it cannot outlive the connections it describes.
type VoiceState struct {
	ChannelID  int64 `json:"channel_id"`
	IsMuted    bool  `json:"is_muted"`
	IsDeafened bool  `json:"is_deafened"`
}

// PresenceState is a user's online status plus voice state.
type PresenceState struct {
	Online bool       `json:"online"`
	Voice  VoiceState `json:"voice"`
}

// presenceRec is one user's record with its own lock so independent users
// never contend.
type presenceRec struct {
	mut   sync.Mutex
	state PresenceState
}

// PresenceTracker tracks online/offline and voice state per user.
// All operations are idempotent, last-writer-wins.
type PresenceTracker struct {
	mut   sync.RWMutex
	users map[int64]*presenceRec
}

// NewPresenceTracker returns a new PresenceTracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{users: make(map[int64]*presenceRec)}
}

// rec returns the user's record, creating it if absent.
func (t *PresenceTracker) rec(userID int64) *presenceRec {
	t.mut.RLock()
	r, ok := t.users[userID]
	t.mut.RUnlock()
	if ok {
		return r
	}

	t.mut.Lock()
	defer t.mut.Unlock()
	if r, ok = t.users[userID]; !ok {
		r = &presenceRec{}
		t.users[userID] = r
	}
	return r
}

// Get returns the user's state, or the default offline / no-voice state
// for unknown users.
func (t *PresenceTracker) Get(userID int64) PresenceState {
	t.mut.RLock()
	r, ok := t.users[userID]
	t.mut.RUnlock()
	if !ok {
		return PresenceState{}
	}

	r.mut.Lock()
	defer r.mut.Unlock()
	return r.state
}

// SetOnline marks the user online.
func (t *PresenceTracker) SetOnline(userID int64) {
	r := t.rec(userID)
	r.mut.Lock()
	r.state.Online = true
	r.mut.Unlock()
}

// SetOffline marks the user offline and clears any voice state.
func (t *PresenceTracker) SetOffline(userID int64) {
	r := t.rec(userID)
	r.mut.Lock()
	r.state = PresenceState{}
	r.mut.Unlock()
}

// SetVoiceChannel moves the user into a voice channel with mute flags
// reset, and returns the channel they were in before (0 for none).
// Joining the channel the user is already in is a no-op.
func (t *PresenceTracker) SetVoiceChannel(userID, channelID int64) (prev int64) {
	r := t.rec(userID)
	r.mut.Lock()
	defer r.mut.Unlock()

	prev = r.state.Voice.ChannelID
	if prev == channelID {
		return prev
	}
	r.state.Voice = VoiceState{ChannelID: channelID}
	return prev
}

// ClearVoice removes the user from voice, clearing mute flags with it,
// and returns the channel they were in (0 for none).
func (t *PresenceTracker) ClearVoice(userID int64) (prev int64) {
	r := t.rec(userID)
	r.mut.Lock()
	defer r.mut.Unlock()

	prev = r.state.Voice.ChannelID
	r.state.Voice = VoiceState{}
	return prev
}

// SetMute updates the user's mute flags. It applies only while the user
// is in a voice channel; otherwise it is a no-op and reports false.
func (t *PresenceTracker) SetMute(userID int64, muted, deafened bool) bool {
	r := t.rec(userID)
	r.mut.Lock()
	defer r.mut.Unlock()

	if r.state.Voice.ChannelID == 0 {
		return false
	}
	r.state.Voice.IsMuted = muted
	r.state.Voice.IsDeafened = deafened
	return true
}
