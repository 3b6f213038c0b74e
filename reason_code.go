package protomq

// ReasonCode is an MQTT 5.0 reason code qualifying the outcome of an
// acknowledgment, a disconnect, or an auth exchange.
type ReasonCode byte

// MQTT 5.0 reason codes.
const (
	ReasonSuccess                    ReasonCode = 0x00
	ReasonGrantedQoS1                ReasonCode = 0x01
	ReasonGrantedQoS2                ReasonCode = 0x02
	ReasonDisconnectWithWill         ReasonCode = 0x04
	ReasonNoMatchingSubscribers      ReasonCode = 0x10
	ReasonNoSubscriptionExisted      ReasonCode = 0x11
	ReasonContinueAuth               ReasonCode = 0x18
	ReasonReAuth                     ReasonCode = 0x19
	ReasonUnspecifiedError           ReasonCode = 0x80
	ReasonMalformedPacket            ReasonCode = 0x81
	ReasonProtocolError              ReasonCode = 0x82
	ReasonImplSpecificError          ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion ReasonCode = 0x84
	ReasonClientIDNotValid           ReasonCode = 0x85
	ReasonBadUserNameOrPassword      ReasonCode = 0x86
	ReasonNotAuthorized              ReasonCode = 0x87
	ReasonServerUnavailable          ReasonCode = 0x88
	ReasonServerBusy                 ReasonCode = 0x89
	ReasonBanned                     ReasonCode = 0x8A
	ReasonServerShuttingDown         ReasonCode = 0x8B
	ReasonBadAuthMethod              ReasonCode = 0x8C
	ReasonKeepAliveTimeout           ReasonCode = 0x8D
	ReasonSessionTakenOver           ReasonCode = 0x8E
	ReasonTopicFilterInvalid         ReasonCode = 0x8F
	ReasonTopicNameInvalid           ReasonCode = 0x90
	ReasonPacketIDInUse              ReasonCode = 0x91
	ReasonPacketIDNotFound           ReasonCode = 0x92
	ReasonReceiveMaxExceeded         ReasonCode = 0x93
	ReasonTopicAliasInvalid          ReasonCode = 0x94
	ReasonPacketTooLarge             ReasonCode = 0x95
	ReasonMessageRateTooHigh         ReasonCode = 0x96
	ReasonQuotaExceeded              ReasonCode = 0x97
	ReasonAdminAction                ReasonCode = 0x98
	ReasonPayloadFormatInvalid       ReasonCode = 0x99
	ReasonRetainNotSupported         ReasonCode = 0x9A
	ReasonQoSNotSupported            ReasonCode = 0x9B
	ReasonUseAnotherServer           ReasonCode = 0x9C
	ReasonServerMoved                ReasonCode = 0x9D
	ReasonSharedSubsNotSupported     ReasonCode = 0x9E
	ReasonConnectionRateExceeded     ReasonCode = 0x9F
	ReasonMaxConnectTime             ReasonCode = 0xA0
	ReasonSubIDsNotSupported         ReasonCode = 0xA1
	ReasonWildcardSubsNotSupported   ReasonCode = 0xA2
)

// ReasonNormalDisconnect is the DISCONNECT reading of reason code 0x00.
const ReasonNormalDisconnect = ReasonSuccess

var reasonCodeStrings = map[ReasonCode]string{
	ReasonSuccess:                    "Success",
	ReasonGrantedQoS1:                "Granted QoS 1",
	ReasonGrantedQoS2:                "Granted QoS 2",
	ReasonDisconnectWithWill:         "Disconnect with Will Message",
	ReasonNoMatchingSubscribers:      "No matching subscribers",
	ReasonNoSubscriptionExisted:      "No subscription existed",
	ReasonContinueAuth:               "Continue authentication",
	ReasonReAuth:                     "Re-authenticate",
	ReasonUnspecifiedError:           "Unspecified error",
	ReasonMalformedPacket:            "Malformed Packet",
	ReasonProtocolError:              "Protocol Error",
	ReasonImplSpecificError:          "Implementation specific error",
	ReasonUnsupportedProtocolVersion: "Unsupported Protocol Version",
	ReasonClientIDNotValid:           "Client Identifier not valid",
	ReasonBadUserNameOrPassword:      "Bad User Name or Password",
	ReasonNotAuthorized:              "Not authorized",
	ReasonServerUnavailable:          "Server unavailable",
	ReasonServerBusy:                 "Server busy",
	ReasonBanned:                     "Banned",
	ReasonServerShuttingDown:         "Server shutting down",
	ReasonBadAuthMethod:              "Bad authentication method",
	ReasonKeepAliveTimeout:           "Keep Alive timeout",
	ReasonSessionTakenOver:           "Session taken over",
	ReasonTopicFilterInvalid:         "Topic Filter invalid",
	ReasonTopicNameInvalid:           "Topic Name invalid",
	ReasonPacketIDInUse:              "Packet Identifier in use",
	ReasonPacketIDNotFound:           "Packet Identifier not found",
	ReasonReceiveMaxExceeded:         "Receive Maximum exceeded",
	ReasonTopicAliasInvalid:          "Topic Alias invalid",
	ReasonPacketTooLarge:             "Packet too large",
	ReasonMessageRateTooHigh:         "Message rate too high",
	ReasonQuotaExceeded:              "Quota exceeded",
	ReasonAdminAction:                "Administrative action",
	ReasonPayloadFormatInvalid:       "Payload format invalid",
	ReasonRetainNotSupported:         "Retain not supported",
	ReasonQoSNotSupported:            "QoS not supported",
	ReasonUseAnotherServer:           "Use another server",
	ReasonServerMoved:                "Server moved",
	ReasonSharedSubsNotSupported:     "Shared Subscriptions not supported",
	ReasonConnectionRateExceeded:     "Connection rate exceeded",
	ReasonMaxConnectTime:             "Maximum connect time",
	ReasonSubIDsNotSupported:         "Subscription Identifiers not supported",
	ReasonWildcardSubsNotSupported:   "Wildcard Subscriptions not supported",
}

// String returns the spec name of the reason code.
func (r ReasonCode) String() string {
	if s, ok := reasonCodeStrings[r]; ok {
		return s
	}
	return "Unknown"
}

// IsError returns true for reason codes at or above 0x80.
func (r ReasonCode) IsError() bool {
	return r >= 0x80
}

// ConnectReturnCode is an MQTT 3.1.1 CONNACK return code.
type ConnectReturnCode byte

// MQTT 3.1.1 CONNACK return codes.
const (
	ReturnAccepted                  ConnectReturnCode = 0x00
	ReturnUnacceptableProtocolLevel ConnectReturnCode = 0x01
	ReturnIdentifierRejected        ConnectReturnCode = 0x02
	ReturnServerUnavailable         ConnectReturnCode = 0x03
	ReturnBadUserNameOrPassword     ConnectReturnCode = 0x04
	ReturnNotAuthorized             ConnectReturnCode = 0x05
)

// String returns the spec name of the return code.
func (r ConnectReturnCode) String() string {
	switch r {
	case ReturnAccepted:
		return "Connection Accepted"
	case ReturnUnacceptableProtocolLevel:
		return "Unacceptable protocol version"
	case ReturnIdentifierRejected:
		return "Identifier rejected"
	case ReturnServerUnavailable:
		return "Server unavailable"
	case ReturnBadUserNameOrPassword:
		return "Bad user name or password"
	case ReturnNotAuthorized:
		return "Not authorized"
	default:
		return "Unknown"
	}
}

// ReasonCode maps the 3.1.1 return code onto the closest 5.0 reason
// code, so session callbacks see one vocabulary regardless of version.
func (r ConnectReturnCode) ReasonCode() ReasonCode {
	switch r {
	case ReturnAccepted:
		return ReasonSuccess
	case ReturnUnacceptableProtocolLevel:
		return ReasonUnsupportedProtocolVersion
	case ReturnIdentifierRejected:
		return ReasonClientIDNotValid
	case ReturnServerUnavailable:
		return ReasonServerUnavailable
	case ReturnBadUserNameOrPassword:
		return ReasonBadUserNameOrPassword
	case ReturnNotAuthorized:
		return ReasonNotAuthorized
	default:
		return ReasonUnspecifiedError
	}
}

// ReturnCode maps a 5.0 reason code onto the 3.1.1 CONNACK return code
// used when refusing a connection on the wire.
func (r ReasonCode) ReturnCode() ConnectReturnCode {
	switch r {
	case ReasonSuccess:
		return ReturnAccepted
	case ReasonUnsupportedProtocolVersion:
		return ReturnUnacceptableProtocolLevel
	case ReasonClientIDNotValid:
		return ReturnIdentifierRejected
	case ReasonServerUnavailable, ReasonServerBusy, ReasonServerShuttingDown:
		return ReturnServerUnavailable
	case ReasonBadUserNameOrPassword:
		return ReturnBadUserNameOrPassword
	default:
		return ReturnNotAuthorized
	}
}

// SubackFailure is the MQTT 3.1.1 SUBACK failure return code. Granted
// QoS values 0x00-0x02 are shared with 5.0.
const SubackFailure ReasonCode = 0x80
