package mqtt

import "strings"

// validateConnectOptions rejects malformed ConnectOptions before any
// state change, the pre-state-change argument validation layer of
// spec.md §7.
func validateConnectOptions(opts *ConnectOptions) error {
	if opts.Password != "" && opts.UserName == "" {
		return NewError(CodeInvalidArgument, "password set without user name")
	}
	if opts.MQTTVersion != 0 && opts.MQTTVersion != 3 && opts.MQTTVersion != 4 {
		return NewError(CodeInvalidArgument, "mqttVersion must be 3 or 4, got %d", opts.MQTTVersion)
	}
	if opts.KeepAliveInterval < 0 {
		return NewError(CodeInvalidArgument, "keepAliveInterval must be >= 0")
	}
	if len(opts.URIs) == 0 {
		if len(opts.Hosts) == 0 {
			return NewError(CodeInvalidArgument, "no uris or hosts supplied")
		}
		if len(opts.Hosts) != len(opts.Ports) {
			return NewError(CodeInvalidArgument, "hosts and ports length mismatch")
		}
	}
	if opts.WillMessage != nil {
		if opts.WillMessage.DestinationName == "" {
			return NewError(CodeInvalidArgument, "will message missing destinationName")
		}
		if opts.WillMessage.QoS > 2 {
			return NewError(CodeInvalidArgument, "will message qos out of range")
		}
	}
	return nil
}

// validateClientID enforces the 1..65535 character bound, counting a
// UTF-16 surrogate pair as one character the way a browser-hosted peer
// would measure it.
func validateClientID(id string) error {
	n := 0
	for _, r := range id {
		_ = r
		n++
	}
	if n < 1 || n > 65535 {
		return NewError(CodeInvalidArgument, "clientId length %d out of range [1, 65535]", n)
	}
	return nil
}

func validateTopicFilter(filter string) error {
	if filter == "" {
		return NewError(CodeInvalidArgument, "empty topic filter")
	}
	return nil
}

func validatePublishTopic(topic string) error {
	if topic == "" {
		return NewError(CodeInvalidArgument, "empty publish topic")
	}
	if strings.ContainsAny(topic, "#+") {
		return NewError(CodeInvalidArgument, "publish topic must not contain wildcards")
	}
	return nil
}
