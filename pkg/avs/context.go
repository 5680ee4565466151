package avs

// ContextProvider supplies the context array attached to every outbound
// event (spec §3 "Context block", §4.8). Implementations must never
// store the result — it's derived fresh from live component state each
// call.
type ContextProvider interface {
	Context() []ContextEntry
}

// playbackStatePayload and volumeStatePayload are currently static
// stubs, matching spec §4.8: "reimplementations may make these reflect
// real state, but must preserve the schema." Grounded on
// original_source/alexa_device.py's get_context.
type playbackStatePayload struct {
	Token                string `json:"token"`
	OffsetInMilliseconds int    `json:"offsetInMilliseconds"`
	PlayerActivity       string `json:"playerActivity"`
}

type volumeStatePayload struct {
	Volume int  `json:"volume"`
	Muted  bool `json:"muted"`
}

// StaticContext assembles the three-entry context array: AudioPlayer
// and Speaker state are fixed stubs, Alerts state comes from the live
// AlertScheduler.
type StaticContext struct {
	alerts *AlertScheduler
}

// NewStaticContext builds a ContextProvider backed by the given
// scheduler's live alert map.
func NewStaticContext(alerts *AlertScheduler) *StaticContext {
	return &StaticContext{alerts: alerts}
}

func (c *StaticContext) Context() []ContextEntry {
	return []ContextEntry{
		{
			Header: Header{Namespace: NamespaceAudioPlayer, Name: "PlaybackState"},
			Payload: playbackStatePayload{
				Token:                "",
				OffsetInMilliseconds: 0,
				PlayerActivity:       "IDLE",
			},
		},
		c.alerts.StateContextEntry(),
		{
			Header:  Header{Namespace: NamespaceSpeaker, Name: "VolumeState"},
			Payload: volumeStatePayload{Volume: 100, Muted: false},
		},
	}
}
