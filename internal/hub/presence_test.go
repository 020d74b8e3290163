package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceDefaultsForUnknownUser(t *testing.T) {
	p := NewPresenceTracker()

	state := p.Get(42)
	assert.False(t, state.Online)
	assert.Zero(t, state.Voice.ChannelID)
	assert.False(t, state.Voice.IsMuted)
	assert.False(t, state.Voice.IsDeafened)
}

func TestPresenceOnlineOfflineIdempotent(t *testing.T) {
	p := NewPresenceTracker()

	p.SetOnline(1)
	p.SetOnline(1)
	assert.True(t, p.Get(1).Online)

	p.SetOffline(1)
	p.SetOffline(1)
	assert.False(t, p.Get(1).Online)
}

func TestPresenceOfflineClearsVoice(t *testing.T) {
	p := NewPresenceTracker()

	p.SetOnline(1)
	p.SetVoiceChannel(1, 5)
	p.SetMute(1, true, true)
	p.SetOffline(1)

	state := p.Get(1)
	assert.Zero(t, state.Voice.ChannelID)
	assert.False(t, state.Voice.IsMuted)
}

func TestPresenceVoiceSwitchResetsFlags(t *testing.T) {
	p := NewPresenceTracker()

	prev := p.SetVoiceChannel(1, 5)
	assert.Zero(t, prev)

	assert.True(t, p.SetMute(1, true, false))

	prev = p.SetVoiceChannel(1, 6)
	assert.Equal(t, int64(5), prev)

	state := p.Get(1)
	assert.Equal(t, int64(6), state.Voice.ChannelID)
	assert.False(t, state.Voice.IsMuted)

	// Re-joining the same channel keeps the flags.
	p.SetMute(1, true, true)
	prev = p.SetVoiceChannel(1, 6)
	assert.Equal(t, int64(6), prev)
	assert.True(t, p.Get(1).Voice.IsMuted)
}

func TestPresenceMuteRequiresVoice(t *testing.T) {
	p := NewPresenceTracker()

	assert.False(t, p.SetMute(1, true, true))
	assert.False(t, p.Get(1).Voice.IsMuted)
}

func TestPresenceConcurrentUsers(t *testing.T) {
	p := NewPresenceTracker()

	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			p.SetOnline(id)
			p.SetVoiceChannel(id, id*10)
			p.SetMute(id, true, false)
		}(i)
	}
	wg.Wait()

	for i := int64(1); i <= 50; i++ {
		state := p.Get(i)
		assert.True(t, state.Online)
		assert.Equal(t, i*10, state.Voice.ChannelID)
		assert.True(t, state.Voice.IsMuted)
	}
}
