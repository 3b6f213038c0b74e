package protomq

// WillMessage is the Last Will and Testament announced in CONNECT.
// The server publishes it on the client's behalf when the connection
// ends without a clean DISCONNECT.
type WillMessage struct {
	// Topic is the will topic.
	Topic string

	// Payload is the will payload.
	Payload []byte

	// QoS is the quality of service level (0, 1, or 2).
	QoS byte

	// Retain indicates if the will message should be retained.
	Retain bool

	// DelayInterval delays publication by this many seconds after the
	// connection drops, or until the session expires.
	DelayInterval uint32

	// PayloadFormat indicates UTF-8 text (1) or unspecified bytes (0).
	PayloadFormat byte

	// MessageExpiry is the message lifetime in seconds.
	MessageExpiry uint32

	// ContentType is the MIME type of the payload.
	ContentType string

	// ResponseTopic is the topic name for a response message.
	ResponseTopic string

	// CorrelationData correlates a request with a response.
	CorrelationData []byte

	// UserProperties are application-defined properties.
	UserProperties []StringPair
}

// WillMessageFromConnect extracts the will message from a CONNECT
// packet, or nil when none was announced.
func WillMessageFromConnect(pkt *ConnectPacket) *WillMessage {
	if !pkt.WillFlag {
		return nil
	}

	will := &WillMessage{
		Topic:   pkt.WillTopic,
		Payload: pkt.WillPayload,
		QoS:     pkt.WillQoS,
		Retain:  pkt.WillRetain,
	}
	if pkt.WillProps.Len() > 0 {
		will.DelayInterval = pkt.WillProps.GetUint32(PropWillDelayInterval)
		will.PayloadFormat = pkt.WillProps.GetByte(PropPayloadFormatIndicator)
		will.MessageExpiry = pkt.WillProps.GetUint32(PropMessageExpiryInterval)
		will.ContentType = pkt.WillProps.GetString(PropContentType)
		will.ResponseTopic = pkt.WillProps.GetString(PropResponseTopic)
		will.CorrelationData = pkt.WillProps.GetBinary(PropCorrelationData)
		will.UserProperties = pkt.WillProps.GetAllStringPairs(PropUserProperty)
	}
	return will
}

// ApplyToConnect writes the will fields and, for v5, the will
// properties into a CONNECT packet.
func (w *WillMessage) ApplyToConnect(pkt *ConnectPacket, version ProtocolVersion) {
	pkt.WillFlag = true
	pkt.WillTopic = w.Topic
	pkt.WillPayload = w.Payload
	pkt.WillQoS = w.QoS
	pkt.WillRetain = w.Retain

	if version != Version5 {
		return
	}
	if w.DelayInterval > 0 {
		pkt.WillProps.Set(PropWillDelayInterval, w.DelayInterval)
	}
	if w.PayloadFormat > 0 {
		pkt.WillProps.Set(PropPayloadFormatIndicator, w.PayloadFormat)
	}
	if w.MessageExpiry > 0 {
		pkt.WillProps.Set(PropMessageExpiryInterval, w.MessageExpiry)
	}
	if w.ContentType != "" {
		pkt.WillProps.Set(PropContentType, w.ContentType)
	}
	if w.ResponseTopic != "" {
		pkt.WillProps.Set(PropResponseTopic, w.ResponseTopic)
	}
	if len(w.CorrelationData) > 0 {
		pkt.WillProps.Set(PropCorrelationData, w.CorrelationData)
	}
	for _, up := range w.UserProperties {
		pkt.WillProps.Add(PropUserProperty, up)
	}
}

// ToMessage converts the will into a publishable Message.
func (w *WillMessage) ToMessage() *Message {
	return &Message{
		Topic:           w.Topic,
		Payload:         w.Payload,
		QoS:             w.QoS,
		Retain:          w.Retain,
		PayloadFormat:   w.PayloadFormat,
		MessageExpiry:   w.MessageExpiry,
		ContentType:     w.ContentType,
		ResponseTopic:   w.ResponseTopic,
		CorrelationData: w.CorrelationData,
		UserProperties:  w.UserProperties,
	}
}

// Validate checks the will message fields.
func (w *WillMessage) Validate() error {
	if err := ValidateTopicName(w.Topic); err != nil {
		return err
	}
	if w.QoS > 2 {
		return ErrInvalidQoS
	}
	return nil
}
