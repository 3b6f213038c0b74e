package protomq

import "io"

// PropertyID is an MQTT 5.0 property identifier.
type PropertyID byte

// Property identifiers defined by MQTT 5.0.
const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

// PropertyType is the wire encoding of a property value.
type PropertyType byte

const (
	PropTypeByte        PropertyType = 0
	PropTypeTwoByteInt  PropertyType = 1
	PropTypeFourByteInt PropertyType = 2
	PropTypeVarInt      PropertyType = 3
	PropTypeString      PropertyType = 4
	PropTypeBinary      PropertyType = 5
	PropTypeStringPair  PropertyType = 6
)

// propertyTypeMap maps property IDs to their wire encodings. An ID
// absent from this map is unknown and malformed on decode.
var propertyTypeMap = map[PropertyID]PropertyType{
	PropPayloadFormatIndicator:   PropTypeByte,
	PropMessageExpiryInterval:    PropTypeFourByteInt,
	PropContentType:              PropTypeString,
	PropResponseTopic:            PropTypeString,
	PropCorrelationData:          PropTypeBinary,
	PropSubscriptionIdentifier:   PropTypeVarInt,
	PropSessionExpiryInterval:    PropTypeFourByteInt,
	PropAssignedClientIdentifier: PropTypeString,
	PropServerKeepAlive:          PropTypeTwoByteInt,
	PropAuthenticationMethod:     PropTypeString,
	PropAuthenticationData:       PropTypeBinary,
	PropRequestProblemInfo:       PropTypeByte,
	PropWillDelayInterval:        PropTypeFourByteInt,
	PropRequestResponseInfo:      PropTypeByte,
	PropResponseInformation:      PropTypeString,
	PropServerReference:          PropTypeString,
	PropReasonString:             PropTypeString,
	PropReceiveMaximum:           PropTypeTwoByteInt,
	PropTopicAliasMaximum:        PropTypeTwoByteInt,
	PropTopicAlias:               PropTypeTwoByteInt,
	PropMaximumQoS:               PropTypeByte,
	PropRetainAvailable:          PropTypeByte,
	PropUserProperty:             PropTypeStringPair,
	PropMaximumPacketSize:        PropTypeFourByteInt,
	PropWildcardSubAvailable:     PropTypeByte,
	PropSubscriptionIDAvailable:  PropTypeByte,
	PropSharedSubAvailable:       PropTypeByte,
}

// PropertyType returns the wire encoding for this property ID.
func (p PropertyID) PropertyType() PropertyType {
	if t, ok := propertyTypeMap[p]; ok {
		return t
	}
	return PropTypeByte
}

// Repeatable reports whether the property may occur more than once in
// one packet. Only User Property repeats.
func (p PropertyID) Repeatable() bool {
	return p == PropUserProperty
}

// Property errors. All are in the ErrMalformedPacket class.
var (
	ErrUnknownPropertyID = malformedf("unknown property identifier")
	ErrDuplicateProperty = malformedf("duplicate non-repeatable property")
	ErrPropertyNotAllowed = malformedf("property not allowed for packet type")
)

// PropertyContext names the packet position a property list appears in,
// for per-packet validity checks.
type PropertyContext int

const (
	PropCtxCONNECT PropertyContext = iota
	PropCtxCONNACK
	PropCtxPUBLISH
	PropCtxPUBACK
	PropCtxPUBREC
	PropCtxPUBREL
	PropCtxPUBCOMP
	PropCtxSUBSCRIBE
	PropCtxSUBACK
	PropCtxUNSUBSCRIBE
	PropCtxUNSUBACK
	PropCtxDISCONNECT
	PropCtxAUTH
	PropCtxWill
)

// propertyValidity lists the property IDs each packet position accepts,
// per the MQTT 5.0 property tables.
var propertyValidity = map[PropertyContext]map[PropertyID]struct{}{
	PropCtxCONNECT: propSet(
		PropSessionExpiryInterval, PropReceiveMaximum, PropMaximumPacketSize,
		PropTopicAliasMaximum, PropRequestResponseInfo, PropRequestProblemInfo,
		PropUserProperty, PropAuthenticationMethod, PropAuthenticationData,
	),
	PropCtxCONNACK: propSet(
		PropSessionExpiryInterval, PropReceiveMaximum, PropMaximumQoS,
		PropRetainAvailable, PropMaximumPacketSize, PropAssignedClientIdentifier,
		PropTopicAliasMaximum, PropReasonString, PropUserProperty,
		PropWildcardSubAvailable, PropSubscriptionIDAvailable, PropSharedSubAvailable,
		PropServerKeepAlive, PropResponseInformation, PropServerReference,
		PropAuthenticationMethod, PropAuthenticationData,
	),
	PropCtxPUBLISH: propSet(
		PropPayloadFormatIndicator, PropMessageExpiryInterval, PropTopicAlias,
		PropResponseTopic, PropCorrelationData, PropUserProperty,
		PropSubscriptionIdentifier, PropContentType,
	),
	PropCtxPUBACK:  propSet(PropReasonString, PropUserProperty),
	PropCtxPUBREC:  propSet(PropReasonString, PropUserProperty),
	PropCtxPUBREL:  propSet(PropReasonString, PropUserProperty),
	PropCtxPUBCOMP: propSet(PropReasonString, PropUserProperty),
	PropCtxSUBSCRIBE: propSet(
		PropSubscriptionIdentifier, PropUserProperty,
	),
	PropCtxSUBACK:      propSet(PropReasonString, PropUserProperty),
	PropCtxUNSUBSCRIBE: propSet(PropUserProperty),
	PropCtxUNSUBACK:    propSet(PropReasonString, PropUserProperty),
	PropCtxDISCONNECT: propSet(
		PropSessionExpiryInterval, PropReasonString, PropUserProperty,
		PropServerReference,
	),
	PropCtxAUTH: propSet(
		PropAuthenticationMethod, PropAuthenticationData, PropReasonString,
		PropUserProperty,
	),
	PropCtxWill: propSet(
		PropWillDelayInterval, PropPayloadFormatIndicator,
		PropMessageExpiryInterval, PropContentType, PropResponseTopic,
		PropCorrelationData, PropUserProperty,
	),
}

func propSet(ids ...PropertyID) map[PropertyID]struct{} {
	set := make(map[PropertyID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Properties is an ordered collection of MQTT 5.0 properties. Order is
// preserved through decode and re-encode.
type Properties struct {
	props []property
}

type property struct {
	id    PropertyID
	value any
}

// Len returns the number of properties in the collection.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.props)
}

// Has returns true if a property with the given ID exists.
func (p *Properties) Has(id PropertyID) bool {
	if p == nil {
		return false
	}
	for i := range p.props {
		if p.props[i].id == id {
			return true
		}
	}
	return false
}

// Get returns the value of the property with the given ID, or nil.
func (p *Properties) Get(id PropertyID) any {
	if p == nil {
		return nil
	}
	for i := range p.props {
		if p.props[i].id == id {
			return p.props[i].value
		}
	}
	return nil
}

// GetAll returns every value stored under the given ID, in order.
func (p *Properties) GetAll(id PropertyID) []any {
	if p == nil {
		return nil
	}
	var result []any
	for i := range p.props {
		if p.props[i].id == id {
			result = append(result, p.props[i].value)
		}
	}
	return result
}

// Set stores a property value, replacing any existing value for the ID.
func (p *Properties) Set(id PropertyID, value any) {
	if p == nil {
		return
	}
	for i := range p.props {
		if p.props[i].id == id {
			p.props[i].value = value
			return
		}
	}
	p.props = append(p.props, property{id: id, value: value})
}

// Add appends a property value. Use for repeatable properties.
func (p *Properties) Add(id PropertyID, value any) {
	if p == nil {
		return
	}
	p.props = append(p.props, property{id: id, value: value})
}

// Delete removes all properties with the given ID.
func (p *Properties) Delete(id PropertyID) {
	if p == nil {
		return
	}
	n := 0
	for i := range p.props {
		if p.props[i].id != id {
			p.props[n] = p.props[i]
			n++
		}
	}
	p.props = p.props[:n]
}

// Typed getters. Missing or mistyped values read as the zero value.

// GetByte returns the byte value of a property, or 0.
func (p *Properties) GetByte(id PropertyID) byte {
	if b, ok := p.Get(id).(byte); ok {
		return b
	}
	return 0
}

// GetUint16 returns the uint16 value of a property, or 0.
func (p *Properties) GetUint16(id PropertyID) uint16 {
	if u, ok := p.Get(id).(uint16); ok {
		return u
	}
	return 0
}

// GetUint32 returns the uint32 value of a property, or 0.
func (p *Properties) GetUint32(id PropertyID) uint32 {
	if u, ok := p.Get(id).(uint32); ok {
		return u
	}
	return 0
}

// GetString returns the string value of a property, or "".
func (p *Properties) GetString(id PropertyID) string {
	if s, ok := p.Get(id).(string); ok {
		return s
	}
	return ""
}

// GetBinary returns the binary value of a property, or nil.
func (p *Properties) GetBinary(id PropertyID) []byte {
	if b, ok := p.Get(id).([]byte); ok {
		return b
	}
	return nil
}

// GetAllStringPairs returns all string pair values for the given ID.
func (p *Properties) GetAllStringPairs(id PropertyID) []StringPair {
	all := p.GetAll(id)
	if all == nil {
		return nil
	}
	result := make([]StringPair, 0, len(all))
	for _, v := range all {
		if sp, ok := v.(StringPair); ok {
			result = append(result, sp)
		}
	}
	return result
}

// GetAllVarInts returns all varint values for the given ID.
func (p *Properties) GetAllVarInts(id PropertyID) []uint32 {
	all := p.GetAll(id)
	if all == nil {
		return nil
	}
	result := make([]uint32, 0, len(all))
	for _, v := range all {
		if u, ok := v.(uint32); ok {
			result = append(result, u)
		}
	}
	return result
}

// ValidateFor checks every stored property against the validity table
// for the given packet position.
func (p *Properties) ValidateFor(ctx PropertyContext) error {
	if p == nil {
		return nil
	}
	allowed := propertyValidity[ctx]
	for i := range p.props {
		if _, ok := allowed[p.props[i].id]; !ok {
			return ErrPropertyNotAllowed
		}
	}
	return nil
}

// Encode writes the length-prefixed property block to w, preserving
// stored order.
func (p *Properties) Encode(w io.Writer) (int, error) {
	if p == nil || len(p.props) == 0 {
		return encodeVarint(w, 0)
	}

	n, err := encodeVarint(w, uint32(p.size()))
	if err != nil {
		return n, err
	}

	for i := range p.props {
		n2, err := p.encodeProperty(w, &p.props[i])
		n += n2
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (p *Properties) encodeProperty(w io.Writer, prop *property) (int, error) {
	n, err := encodeByte(w, byte(prop.id))
	if err != nil {
		return n, err
	}

	var n2 int
	switch prop.id.PropertyType() {
	case PropTypeByte:
		b, _ := prop.value.(byte)
		n2, err = encodeByte(w, b)
	case PropTypeTwoByteInt:
		v, _ := prop.value.(uint16)
		n2, err = encodeUint16(w, v)
	case PropTypeFourByteInt:
		v, _ := prop.value.(uint32)
		n2, err = encodeUint32(w, v)
	case PropTypeVarInt:
		v, _ := prop.value.(uint32)
		n2, err = encodeVarint(w, v)
	case PropTypeString:
		s, _ := prop.value.(string)
		n2, err = encodeString(w, s)
	case PropTypeBinary:
		b, _ := prop.value.([]byte)
		n2, err = encodeBinary(w, b)
	case PropTypeStringPair:
		sp, _ := prop.value.(StringPair)
		n2, err = encodeStringPair(w, sp)
	}
	return n + n2, err
}

func (p *Properties) size() int {
	if p == nil {
		return 0
	}

	size := 0
	for i := range p.props {
		prop := &p.props[i]
		size++ // property ID

		switch prop.id.PropertyType() {
		case PropTypeByte:
			size++
		case PropTypeTwoByteInt:
			size += 2
		case PropTypeFourByteInt:
			size += 4
		case PropTypeVarInt:
			v, _ := prop.value.(uint32)
			size += varintSize(v)
		case PropTypeString:
			s, _ := prop.value.(string)
			size += 2 + len(s)
		case PropTypeBinary:
			b, _ := prop.value.([]byte)
			size += 2 + len(b)
		case PropTypeStringPair:
			sp, _ := prop.value.(StringPair)
			size += 2 + len(sp.Key) + 2 + len(sp.Value)
		}
	}
	return size
}

// encodedSize is the full on-wire size including the length prefix.
func (p *Properties) encodedSize() int {
	s := p.size()
	return varintSize(uint32(s)) + s
}

// Decode reads a length-prefixed property block from r. Unknown IDs and
// duplicates of non-repeatable properties are malformed.
func (p *Properties) Decode(r io.Reader) (int, error) {
	length, n, err := decodeVarint(r)
	if err != nil {
		return n, err
	}
	if length == 0 {
		return n, nil
	}

	seen := make(map[PropertyID]struct{})

	remaining := int(length)
	for remaining > 0 {
		idByte, n2, err := decodeByte(r)
		n += n2
		remaining -= n2
		if err != nil {
			return n, err
		}

		id := PropertyID(idByte)
		propType, ok := propertyTypeMap[id]
		if !ok {
			return n, ErrUnknownPropertyID
		}

		if _, dup := seen[id]; dup && !id.Repeatable() {
			return n, ErrDuplicateProperty
		}
		seen[id] = struct{}{}

		var value any
		var n3 int
		switch propType {
		case PropTypeByte:
			value, n3, err = decodeByte(r)
		case PropTypeTwoByteInt:
			value, n3, err = decodeUint16(r)
		case PropTypeFourByteInt:
			value, n3, err = decodeUint32(r)
		case PropTypeVarInt:
			value, n3, err = decodeVarint(r)
		case PropTypeString:
			value, n3, err = decodeString(r)
		case PropTypeBinary:
			value, n3, err = decodeBinary(r)
		case PropTypeStringPair:
			value, n3, err = decodeStringPair(r)
		}

		n += n3
		remaining -= n3
		if err != nil {
			return n, err
		}

		p.props = append(p.props, property{id: id, value: value})
	}

	if remaining < 0 {
		return n, ErrLengthMismatch
	}
	return n, nil
}
