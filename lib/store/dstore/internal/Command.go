package internal

import (
	"fmt"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/vmihailenco/msgpack/v5"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTPut      CommandType = iota // Insert or replace entities.
	CommandTDelete                      // Delete entities by key.
	CommandTAllocate                    // Reserve a range of numeric ids.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTPut:
		return "Put"
	case CommandTDelete:
		return "Delete"
	case CommandTAllocate:
		return "Allocate"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the db features it needs.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTPut, CommandTDelete:
		return db.FeatureBatch, nil
	case CommandTAllocate:
		return db.FeatureGet | db.FeatureSet, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// Command represents a command to be executed by the state machine (a single
// entry in the raft log). Entities and keys travel in their binary entity
// encoding, so the log is independent of Go types.
type Command struct {
	Type     CommandType `msgpack:"t"`
	Entities [][]byte    `msgpack:"e,omitempty"`
	Keys     [][]byte    `msgpack:"k,omitempty"`
	Parent   []byte      `msgpack:"p,omitempty"`
	Kind     string      `msgpack:"n,omitempty"`
	Count    int         `msgpack:"c,omitempty"`
}

// NewPutCommand encodes the entities of a put.
func NewPutCommand(entities []*entity.Entity) (Command, error) {
	for _, e := range entities {
		if e == nil || e.Key == nil {
			return Command{}, fmt.Errorf("entity without key")
		}
	}
	data, err := entity.MarshalAll(entities)
	if err != nil {
		return Command{}, err
	}
	return Command{Type: CommandTPut, Entities: data}, nil
}

// NewDeleteCommand encodes the keys of a delete.
func NewDeleteCommand(keys []*entity.Key) (Command, error) {
	for _, k := range keys {
		if k == nil {
			return Command{}, fmt.Errorf("nil key")
		}
	}
	return Command{Type: CommandTDelete, Keys: entity.EncodeKeys(keys)}, nil
}

// NewAllocateCommand encodes an id allocation. A nil parent allocates root ids.
func NewAllocateCommand(parent *entity.Key, kind string, n int) Command {
	cmd := Command{Type: CommandTAllocate, Kind: kind, Count: n}
	if parent != nil {
		cmd.Parent = parent.Encode()
	}
	return cmd
}

// Serialize encodes the command with msgpack.
func (command *Command) Serialize() ([]byte, error) {
	return msgpack.Marshal(command)
}

// Deserialize decodes a command produced by Serialize.
func (command *Command) Deserialize(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty command")
	}
	*command = Command{}
	return msgpack.Unmarshal(data, command)
}

// ParentKey decodes the parent of an allocate command (nil for root ids).
func (command *Command) ParentKey() (*entity.Key, error) {
	if len(command.Parent) == 0 {
		return nil, nil
	}
	return entity.DecodeKey(command.Parent)
}
