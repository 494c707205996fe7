package h2

import "golang.org/x/net/http2"

// Settings mirrors the SETTINGS parameters a peer can advertise
// (spec.md §4.4 "exchange preface and SETTINGS, apply peer SETTINGS
// before sending application frames"). Values start at the HTTP/2
// defaults and are overwritten field-by-field as SETTINGS frames
// arrive; a peer is never required to send every parameter.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// DefaultSettings returns the RFC 7540 §6.5.2 initial values.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           true,
		MaxConcurrentStreams: 0, // 0 means unlimited until the peer says otherwise
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    0, // 0 means unlimited
	}
}

// ApplySettingsFrame folds every parameter carried by fr into s,
// leaving parameters fr does not mention untouched.
func (s *Settings) ApplySettingsFrame(fr *http2.SettingsFrame) error {
	return fr.ForeachSetting(func(setting http2.Setting) error {
		switch setting.ID {
		case http2.SettingHeaderTableSize:
			s.HeaderTableSize = setting.Val
		case http2.SettingEnablePush:
			s.EnablePush = setting.Val != 0
		case http2.SettingMaxConcurrentStreams:
			s.MaxConcurrentStreams = setting.Val
		case http2.SettingInitialWindowSize:
			s.InitialWindowSize = setting.Val
		case http2.SettingMaxFrameSize:
			s.MaxFrameSize = setting.Val
		case http2.SettingMaxHeaderListSize:
			s.MaxHeaderListSize = setting.Val
		}
		return nil
	})
}

// AsFrameSettings renders s as the []http2.Setting WriteSettings wants.
// MaxConcurrentStreams is left out when it is 0 (unlimited), since a 0
// on the wire would allow no streams at all.
func (s Settings) AsFrameSettings() []http2.Setting {
	push := uint32(0)
	if s.EnablePush {
		push = 1
	}
	settings := []http2.Setting{
		{ID: http2.SettingHeaderTableSize, Val: s.HeaderTableSize},
		{ID: http2.SettingEnablePush, Val: push},
	}
	if s.MaxConcurrentStreams != 0 {
		settings = append(settings, http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: s.MaxConcurrentStreams})
	}
	return append(settings,
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: s.InitialWindowSize},
		http2.Setting{ID: http2.SettingMaxFrameSize, Val: s.MaxFrameSize},
	)
}
