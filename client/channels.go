package client

// ChannelConfig binds a client to one producer surface. The channel
// value is free-form at the gateway; these presets cover the surfaces
// the stack ships dashboards for, and new surfaces just declare their
// own ChannelConfig.
type ChannelConfig struct {
	// Channel is the wire channel identifier.
	Channel string
	// Platform is the default platform stamped on events.
	Platform string
	// DefaultCategory is used when a Track carries no category.
	DefaultCategory string
	// FieldMappings lifts channel-specific metadata keys onto flattened
	// event fields: key is the metadata key, value is the event field
	// ("event_category", "resource_id", "resource_title",
	// "interaction_target", "interaction_text", "interaction_value").
	// A lifted key is removed from metadata; explicit Track fields win.
	FieldMappings map[string]string
}

// Web is the browser surface.
func Web() ChannelConfig {
	return ChannelConfig{Channel: "web", Platform: "web", DefaultCategory: "user_action"}
}

// Mobile is the native app surface for the given platform ("ios",
// "android").
func Mobile(platform string) ChannelConfig {
	return ChannelConfig{Channel: "mobile", Platform: platform, DefaultCategory: "user_action"}
}

// Chat is the conversational text surface. The message text rides in
// metadata and is lifted into interaction_text.
func Chat() ChannelConfig {
	return ChannelConfig{
		Channel:         "chat",
		Platform:        "chat",
		DefaultCategory: "conversation",
		FieldMappings:   map[string]string{"message": "interaction_text"},
	}
}

// Speech is the voice interface surface; the transcript is lifted into
// interaction_text.
func Speech() ChannelConfig {
	return ChannelConfig{
		Channel:         "speech",
		Platform:        "speech",
		DefaultCategory: "voice",
		FieldMappings:   map[string]string{"transcript": "interaction_text"},
	}
}

// Agent is the autonomous agent surface; the invoked tool is lifted
// into interaction_target.
func Agent() ChannelConfig {
	return ChannelConfig{
		Channel:         "agent",
		Platform:        "agent",
		DefaultCategory: "system",
		FieldMappings:   map[string]string{"tool": "interaction_target"},
	}
}

// GPTAction is the assistant plugin surface.
func GPTAction() ChannelConfig {
	return ChannelConfig{
		Channel:         "gpt_action",
		Platform:        "gpt",
		DefaultCategory: "conversation",
		FieldMappings: map[string]string{
			"action": "interaction_target",
			"prompt": "interaction_text",
		},
	}
}
