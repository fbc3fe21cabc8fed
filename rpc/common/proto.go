package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message. Keys, entities and
// queries travel in their msgpack encoding, so every serializer carries them
// as opaque bytes.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type" msgpack:"t"`

	// Transaction token (uuid), empty for "no transaction"
	Tx string `json:"tx,omitempty" msgpack:"x,omitempty"`

	// General fields
	Keys     [][]byte `json:"keys,omitempty" msgpack:"k,omitempty"`     // Used for: Get, Delete (request), Put (response)
	Entities [][]byte `json:"entities,omitempty" msgpack:"e,omitempty"` // Used for: Put (request), Get, Query (response)
	Query    []byte   `json:"query,omitempty" msgpack:"q,omitempty"`    // Used for: Query, Count
	Parent   []byte   `json:"parent,omitempty" msgpack:"p,omitempty"`   // Used for: Allocate
	Kind     string   `json:"kind,omitempty" msgpack:"n,omitempty"`     // Used for: Allocate
	Count    int64    `json:"count,omitempty" msgpack:"c,omitempty"`    // Used for: Allocate (both), Count (response)
	Start    int64    `json:"start,omitempty" msgpack:"s,omitempty"`    // Used for: Allocate, Query (response)
	Value    []byte   `json:"value,omitempty" msgpack:"v,omitempty"`    // Used for: Info (response)

	// Response only fields
	Code store.RetCode `json:"code,omitempty" msgpack:"r,omitempty"` // Return code of a failed operation
	Err  string        `json:"err,omitempty" msgpack:"m,omitempty"`  // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty" msgpack:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// Failure returns the failure carried by a response as a *store.Error, nil for
// successful responses. The return code survives the round trip, so
// errors.Is(err, store.ErrNotFound) works on the client side.
func (m *Message) Failure() error {
	if m.MsgType != MsgTError && m.Code == store.RetCSuccess && m.Err == "" {
		return nil
	}
	code := m.Code
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return store.NewError(code, m.Err)
}

// TxOf decodes the transaction token of a request.
func (m *Message) TxOf() (*store.Tx, error) {
	if m.Tx == "" {
		return nil, nil
	}
	id, err := uuid.Parse(m.Tx)
	if err != nil {
		return nil, store.Errorf(store.RetCInvalidArgument, "invalid transaction token %q", m.Tx)
	}
	return &store.Tx{ID: id}, nil
}

func txString(tx *store.Tx) string {
	if tx == nil {
		return ""
	}
	return tx.ID.String()
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a new Get request
func NewGetRequest(tx *store.Tx, keys []*entity.Key) *Message {
	return &Message{
		MsgType: MsgTGet,
		Tx:      txString(tx),
		Keys:    entity.EncodeKeys(keys),
	}
}

// NewGetResponse creates a new Get response. The found entities are sent as
// a list, the receiver rebuilds the map from their keys.
func NewGetResponse(found map[string]*entity.Entity, err error) *Message {
	if err != nil {
		return NewErrorResponse(MsgTGet, err)
	}
	list := make([]*entity.Entity, 0, len(found))
	for _, e := range found {
		list = append(list, e)
	}
	data, err := entity.MarshalAll(list)
	if err != nil {
		return NewErrorResponse(MsgTGet, err)
	}
	return &Message{MsgType: MsgTGet, Entities: data}
}

// NewPutRequest creates a new Put request
func NewPutRequest(tx *store.Tx, entities []*entity.Entity) (*Message, error) {
	data, err := entity.MarshalAll(entities)
	if err != nil {
		return nil, err
	}
	return &Message{
		MsgType:  MsgTPut,
		Tx:       txString(tx),
		Entities: data,
	}, nil
}

// NewPutResponse creates a new Put response
func NewPutResponse(keys []*entity.Key, err error) *Message {
	if err != nil {
		return NewErrorResponse(MsgTPut, err)
	}
	return &Message{MsgType: MsgTPut, Keys: entity.EncodeKeys(keys)}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(tx *store.Tx, keys []*entity.Key) *Message {
	return &Message{
		MsgType: MsgTDelete,
		Tx:      txString(tx),
		Keys:    entity.EncodeKeys(keys),
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(err error) *Message {
	if err != nil {
		return NewErrorResponse(MsgTDelete, err)
	}
	return &Message{MsgType: MsgTDelete}
}

// NewQueryRequest creates a new Query request. The receiver runs q and
// returns the complete page it selects, so callers page with offset/limit.
func NewQueryRequest(tx *store.Tx, q query.Query) (*Message, error) {
	data, err := query.Marshal(q)
	if err != nil {
		return nil, err
	}
	return &Message{
		MsgType: MsgTQuery,
		Tx:      txString(tx),
		Query:   data,
	}, nil
}

// NewQueryResponse creates a new Query response. origin is the absolute
// position of the first item in the result set, or -1 if the store that ran
// the query has no resumable cursors.
func NewQueryResponse(items []*entity.Entity, origin int, err error) *Message {
	if err != nil {
		return NewErrorResponse(MsgTQuery, err)
	}
	data, err := entity.MarshalAll(items)
	if err != nil {
		return NewErrorResponse(MsgTQuery, err)
	}
	return &Message{MsgType: MsgTQuery, Entities: data, Start: int64(origin)}
}

// NewCountRequest creates a new Count request
func NewCountRequest(tx *store.Tx, q query.Query) (*Message, error) {
	msg, err := NewQueryRequest(tx, q)
	if err != nil {
		return nil, err
	}
	msg.MsgType = MsgTCount
	return msg, nil
}

// NewCountResponse creates a new Count response
func NewCountResponse(n int, err error) *Message {
	if err != nil {
		return NewErrorResponse(MsgTCount, err)
	}
	return &Message{MsgType: MsgTCount, Count: int64(n)}
}

// NewAllocateRequest creates a new Allocate request
func NewAllocateRequest(parent *entity.Key, kind string, n int) *Message {
	msg := &Message{
		MsgType: MsgTAllocate,
		Kind:    kind,
		Count:   int64(n),
	}
	if parent != nil {
		msg.Parent = parent.Encode()
	}
	return msg
}

// NewAllocateResponse creates a new Allocate response
func NewAllocateResponse(r entity.IDRange, err error) *Message {
	if err != nil {
		return NewErrorResponse(MsgTAllocate, err)
	}
	return &Message{MsgType: MsgTAllocate, Start: r.Start, Count: int64(r.Count)}
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTInfo}
}

// NewInfoResponse creates a new Info response. The info is carried as json
// since its metadata is free-form.
func NewInfoResponse(info db.DatabaseInfo, err error) *Message {
	if err != nil {
		return NewErrorResponse(MsgTInfo, err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return NewErrorResponse(MsgTInfo, err)
	}
	return &Message{MsgType: MsgTInfo, Value: data}
}

// NewErrorResponse creates a response for a failed operation of the given type.
// The store return code of err is kept.
func NewErrorResponse(t MessageType, err error) *Message {
	return &Message{
		MsgType: t,
		Code:    store.CodeOf(err),
		Err:     err.Error(),
	}
}

// NewFailureResponse creates a response for a request that could not be
// handled at all (unknown shard, undecodable request).
func NewFailureResponse(code store.RetCode, msg string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    code,
		Err:     msg,
	}
}

// --------------------------------------------------------------------------
// Message Decoding Helpers
// --------------------------------------------------------------------------

// DecodeEntities decodes the entities of a message.
func (m *Message) DecodeEntities() ([]*entity.Entity, error) {
	return entity.UnmarshalAll(m.Entities)
}

// DecodeKeys decodes the keys of a message.
func (m *Message) DecodeKeys() ([]*entity.Key, error) {
	return entity.DecodeKeys(m.Keys)
}

// DecodeQuery decodes the query of a message.
func (m *Message) DecodeQuery() (query.Query, error) {
	return query.Unmarshal(m.Query)
}

// DecodeParent decodes the allocation parent of a message (nil for root keys).
func (m *Message) DecodeParent() (*entity.Key, error) {
	if len(m.Parent) == 0 {
		return nil, nil
	}
	return entity.DecodeKey(m.Parent)
}

// DecodeInfo decodes the database info of an Info response.
func (m *Message) DecodeInfo() (db.DatabaseInfo, error) {
	var info db.DatabaseInfo
	err := json.Unmarshal(m.Value, &info)
	return info, err
}

// --------------------------------------------------------------------------
// Message Types
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTUnknown:  "Unknown",
	MsgTSuccess:  "Success",
	MsgTError:    "Error",
	MsgTGet:      "Get",
	MsgTPut:      "Put",
	MsgTDelete:   "Delete",
	MsgTQuery:    "Query",
	MsgTCount:    "Count",
	MsgTAllocate: "Allocate",
	MsgTInfo:     "Info",
	MsgTCustom:   "Custom",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

const (
	// Control Messages

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates a request that could not be handled

	// Entity Store Operations

	MsgTGet      // Get entities by key
	MsgTPut      // Insert or replace entities
	MsgTDelete   // Delete entities by key
	MsgTQuery    // Run a query and return one page of results
	MsgTCount    // Count the results of a query
	MsgTAllocate // Reserve a range of numeric ids
	MsgTInfo     // Database info

	// Custom Messages

	MsgTCustom // Custom message type for user-defined operations
)
