// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package packet defines the records stored in a device log and
// their binary encoding.
//
// Each record carries a payload of exactly one kind (metadata, sensor
// data, summary, message or measurement). The kind is fixed when the
// record is encoded and travels with it, so that readers, including
// the consistency checker, classify records without inspecting Go
// types.
//
// # Data layout
//
// Records are stored in the data file framed by a four byte sync
// marker, which is used only to resynchronize during recovery:
//
//	frame := marker payload
//
//	marker := 0x0B 0x0B 0x0B 0x0B
//
//	payload :=
//		version uint8          // encoding version, currently 1
//		kind uint8             // the payload kind
//		key int64              // caller supplied ordering key
//		seq int64              // sequence number
//		metaref int64          // sequence number of the governing metadata record
//		length uint32          // the length of body
//		body [length]uint8     // kind specific fields, below
//		checksum uint32        // xxhash of version through body
//
// All integers are big-endian. Strings and byte slices within bodies
// are prefixed with a uint32 length; floats are stored as IEEE-754
// bits. The marker may appear by chance inside a payload; payloads
// are self-delimiting so that a reader positioned at a marker always
// knows where the record ends.
package packet

import (
	"fmt"
	"strings"
)

// Kind is the kind of a record's payload.
type Kind uint8

const (
	// KindMetadata describes the device state for subsequent records.
	KindMetadata Kind = 1 + iota
	// KindSensorData is raw instrument output.
	KindSensorData
	// KindSummary summarizes a series of samples.
	KindSummary
	// KindMessage is a textual device or driver message.
	KindMessage
	// KindMeasurement is a single named, derived value.
	KindMeasurement

	maxKind
)

// Kinds lists all known payload kinds in tag order.
var Kinds = []Kind{KindMetadata, KindSensorData, KindSummary, KindMessage, KindMeasurement}

var kindNames = map[Kind]string{
	KindMetadata:    "metadata",
	KindSensorData:  "sensor-data",
	KindSummary:     "summary",
	KindMessage:     "message",
	KindMeasurement: "measurement",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid tells whether k is a known payload kind.
func (k Kind) Valid() bool {
	return k > 0 && k < maxKind
}

// Record is a single entry of a device log.
type Record struct {
	// Key is the caller supplied ordering key, typically a timestamp.
	// Keys need not be unique.
	Key int64
	// SequenceNumber is the unique, increasing identifier of the
	// record, assigned by the log when the record is appended.
	SequenceNumber int64
	// MetadataRef is the sequence number of the most recent metadata
	// record appended before this one, or 0 if there is none.
	MetadataRef int64
	// Payload is the record's contents.
	Payload Payload
}

// Kind returns the kind of the record's payload, or 0 if the record
// has no payload.
func (r *Record) Kind() Kind {
	if r.Payload == nil {
		return 0
	}
	return r.Payload.Kind()
}

// String returns a one-line description of the record.
func (r *Record) String() string {
	return fmt.Sprintf("seq:%d key:%d metaref:%d %s %v", r.SequenceNumber, r.Key, r.MetadataRef, r.Kind(), r.Payload)
}

// Payload is implemented by the payload kinds of this package.
type Payload interface {
	// Kind returns the payload's kind tag.
	Kind() Kind

	appendBody(p []byte) []byte
	decodeBody(d *decoder)
}

func newPayload(k Kind) Payload {
	switch k {
	case KindMetadata:
		return new(Metadata)
	case KindSensorData:
		return new(SensorData)
	case KindSummary:
		return new(Summary)
	case KindMessage:
		return new(Message)
	case KindMeasurement:
		return new(Measurement)
	}
	return nil
}

// Attribute is a single name/value pair of device metadata.
type Attribute struct {
	Name, Value string
}

// Metadata is a snapshot of device configuration and state.
// Attributes are kept in the order given.
type Metadata struct {
	Attributes []Attribute
}

// Kind implements Payload.
func (*Metadata) Kind() Kind { return KindMetadata }

// Get returns the value of the first attribute with the given name.
func (m *Metadata) Get(name string) (string, bool) {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (m *Metadata) String() string {
	elems := make([]string, len(m.Attributes))
	for i, a := range m.Attributes {
		elems[i] = a.Name + "=" + a.Value
	}
	return "{" + strings.Join(elems, " ") + "}"
}

func (m *Metadata) appendBody(p []byte) []byte {
	p = appendUint32(p, uint32(len(m.Attributes)))
	for _, a := range m.Attributes {
		p = appendString(p, a.Name)
		p = appendString(p, a.Value)
	}
	return p
}

func (m *Metadata) decodeBody(d *decoder) {
	n := d.count(8)
	if n == 0 {
		return
	}
	m.Attributes = make([]Attribute, n)
	for i := range m.Attributes {
		m.Attributes[i].Name = d.string()
		m.Attributes[i].Value = d.string()
	}
}

// SensorData is raw instrument output in an instrument specific
// format.
type SensorData struct {
	// Format names the encoding of Data, e.g., "ctd-hex".
	Format string
	Data   []byte
}

// Kind implements Payload.
func (*SensorData) Kind() Kind { return KindSensorData }

func (s *SensorData) String() string {
	return fmt.Sprintf("{format:%s bytes:%d}", s.Format, len(s.Data))
}

func (s *SensorData) appendBody(p []byte) []byte {
	p = appendString(p, s.Format)
	return appendBytes(p, s.Data)
}

func (s *SensorData) decodeBody(d *decoder) {
	s.Format = d.string()
	s.Data = d.bytes()
}

// Summary summarizes a series of samples.
type Summary struct {
	Count          uint32
	Min, Max, Mean float64
}

// Kind implements Payload.
func (*Summary) Kind() Kind { return KindSummary }

func (s *Summary) appendBody(p []byte) []byte {
	p = appendUint32(p, s.Count)
	p = appendFloat64(p, s.Min)
	p = appendFloat64(p, s.Max)
	return appendFloat64(p, s.Mean)
}

func (s *Summary) decodeBody(d *decoder) {
	s.Count = d.uint32()
	s.Min = d.float64()
	s.Max = d.float64()
	s.Mean = d.float64()
}

// Severity is the severity of a Message.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return fmt.Sprintf("severity(%d)", uint8(s))
}

// Message is a textual message from a device or its driver.
type Message struct {
	Severity Severity
	Text     string
}

// Kind implements Payload.
func (*Message) Kind() Kind { return KindMessage }

func (m *Message) appendBody(p []byte) []byte {
	p = append(p, byte(m.Severity))
	return appendString(p, m.Text)
}

func (m *Message) decodeBody(d *decoder) {
	m.Severity = Severity(d.uint8())
	m.Text = d.string()
}

// Measurement is a single named value derived from sensor data.
type Measurement struct {
	Name  string
	Units string
	Value float64
}

// Kind implements Payload.
func (*Measurement) Kind() Kind { return KindMeasurement }

func (m *Measurement) appendBody(p []byte) []byte {
	p = appendString(p, m.Name)
	p = appendString(p, m.Units)
	return appendFloat64(p, m.Value)
}

func (m *Measurement) decodeBody(d *decoder) {
	m.Name = d.string()
	m.Units = d.string()
	m.Value = d.float64()
}
