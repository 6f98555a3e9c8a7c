package mqtt

import "fmt"

// Code is a stable error identifier returned to callers and passed to
// onFailure/onConnectionLost handlers. Values never change meaning across
// releases; new codes are only ever appended.
type Code int

const (
	CodeOK                      Code = 0
	CodeConnectTimeout          Code = 1
	CodeSubscribeTimeout        Code = 2
	CodeUnsubscribeTimeout      Code = 3
	CodePingTimeout             Code = 4
	CodeInternalError           Code = 5
	CodeConnackReturnCode       Code = 6
	CodeSocketError             Code = 7
	CodeSocketClose             Code = 8
	CodeMalformedUTF            Code = 9
	CodeUnsupported             Code = 10
	CodeInvalidState            Code = 11
	CodeInvalidType             Code = 12
	CodeInvalidArgument         Code = 13
	CodeUnsupportedOperation    Code = 14
	CodeInvalidStoredData       Code = 15
	CodeInvalidMQTTMessageType  Code = 16
	CodeMalformedUnicode        Code = 17
	CodeBufferFull              Code = 18
	CodeExternalError           Code = 19
)

var codeNames = map[Code]string{
	CodeOK:                     "OK",
	CodeConnectTimeout:         "CONNECT_TIMEOUT",
	CodeSubscribeTimeout:       "SUBSCRIBE_TIMEOUT",
	CodeUnsubscribeTimeout:     "UNSUBSCRIBE_TIMEOUT",
	CodePingTimeout:            "PING_TIMEOUT",
	CodeInternalError:          "INTERNAL_ERROR",
	CodeConnackReturnCode:      "CONNACK_RETURNCODE",
	CodeSocketError:            "SOCKET_ERROR",
	CodeSocketClose:            "SOCKET_CLOSE",
	CodeMalformedUTF:           "MALFORMED_UTF",
	CodeUnsupported:            "UNSUPPORTED",
	CodeInvalidState:           "INVALID_STATE",
	CodeInvalidType:            "INVALID_TYPE",
	CodeInvalidArgument:        "INVALID_ARGUMENT",
	CodeUnsupportedOperation:   "UNSUPPORTED_OPERATION",
	CodeInvalidStoredData:      "INVALID_STORED_DATA",
	CodeInvalidMQTTMessageType: "INVALID_MQTT_MESSAGE_TYPE",
	CodeMalformedUnicode:       "MALFORMED_UNICODE",
	CodeBufferFull:             "BUFFER_FULL",
	CodeExternalError:          "EXTERNAL_ERROR",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// Error is the error type every CORE-raised failure is reported as: a
// stable Code plus a human-readable message, matching the {code, text}
// pair spec.md's onFailure/_disconnected hooks carry.
type Error struct {
	Code Code
	Text string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mqtt: %s: %s", e.Code, e.Text)
}

// NewError builds an *Error with the given code, formatting Text like
// fmt.Sprintf.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Text: fmt.Sprintf(format, args...)}
}
