package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperationKind identifies one member of the operation union.
type OperationKind string

// OperationKind values.
const (
	OperationAdd     OperationKind = "ADD"
	OperationUpdate  OperationKind = "UPDATE"
	OperationMove    OperationKind = "MOVE"
	OperationReorder OperationKind = "REORDER"
	OperationRemove  OperationKind = "REMOVE"
)

// Priority is the deterministic tie-break used when two operations share a
// timestamp: ADD, UPDATE, MOVE, REORDER, REMOVE.
func (k OperationKind) Priority() int {
	switch k {
	case OperationAdd:
		return 0
	case OperationUpdate:
		return 1
	case OperationMove:
		return 2
	case OperationReorder:
		return 3
	case OperationRemove:
		return 4
	default:
		return 5
	}
}

// OperationHeader carries the fields shared by every operation.
type OperationHeader struct {
	BlockID   string
	Timestamp int64
}

// Header returns the shared operation fields.
func (h OperationHeader) Header() OperationHeader { return h }

// Operation is the closed union of client mutation intents.
type Operation interface {
	Kind() OperationKind
	Header() OperationHeader
	operation()
}

// AddOperation creates a block, optionally under a parent.
type AddOperation struct {
	OperationHeader
	ParentID string
	Index    *int
	TypeKey  string
	Name     string
	Payload  Payload
}

// UpdateOperation renames a block or merges a new payload into it.
type UpdateOperation struct {
	OperationHeader
	Name    *string
	Payload Payload
}

// MoveOperation reparents a block. An empty ToParentID detaches it.
type MoveOperation struct {
	OperationHeader
	FromParentID string
	ToParentID   string
	Index        *int
}

// ReorderOperation moves a block within its current parent.
type ReorderOperation struct {
	OperationHeader
	ParentID  string
	FromIndex int
	ToIndex   int
}

// RemoveOperation deletes a block and its descendants. ChildrenIDs maps every
// descendant known to the client to its parent.
type RemoveOperation struct {
	OperationHeader
	ParentID    string
	ChildrenIDs map[string]string
}

func (AddOperation) Kind() OperationKind     { return OperationAdd }
func (UpdateOperation) Kind() OperationKind  { return OperationUpdate }
func (MoveOperation) Kind() OperationKind    { return OperationMove }
func (ReorderOperation) Kind() OperationKind { return OperationReorder }
func (RemoveOperation) Kind() OperationKind  { return OperationRemove }

func (AddOperation) operation()     {}
func (UpdateOperation) operation()  {}
func (MoveOperation) operation()    {}
func (ReorderOperation) operation() {}
func (RemoveOperation) operation()  {}

// ValidateOperation checks the kind-specific required fields of op.
func ValidateOperation(op Operation) error {
	if op == nil {
		return ErrInvalidOperation
	}
	header := op.Header()
	if strings.TrimSpace(header.BlockID) == "" {
		return fmt.Errorf("%w: %s requires block_id", ErrInvalidOperation, op.Kind())
	}
	switch v := op.(type) {
	case AddOperation:
		if NormalizeTypeKey(v.TypeKey) == "" {
			return fmt.Errorf("%w: ADD %s requires type_key", ErrInvalidOperation, header.BlockID)
		}
		if v.Index != nil && *v.Index < 0 {
			return fmt.Errorf("%w: ADD %s index must be >= 0", ErrInvalidOperation, header.BlockID)
		}
	case UpdateOperation:
		if v.Name == nil && v.Payload == nil {
			return fmt.Errorf("%w: UPDATE %s carries no changes", ErrInvalidOperation, header.BlockID)
		}
	case MoveOperation:
		if v.Index != nil && *v.Index < 0 {
			return fmt.Errorf("%w: MOVE %s index must be >= 0", ErrInvalidOperation, header.BlockID)
		}
	case ReorderOperation:
		if strings.TrimSpace(v.ParentID) == "" {
			return fmt.Errorf("%w: REORDER %s requires parent_id", ErrInvalidOperation, header.BlockID)
		}
		if v.ToIndex < 0 {
			return fmt.Errorf("%w: REORDER %s to_index must be >= 0", ErrInvalidOperation, header.BlockID)
		}
	case RemoveOperation:
	}
	return nil
}

// operationJSON is the wire envelope of the operation union.
type operationJSON struct {
	Type         OperationKind     `json:"type"`
	BlockID      string            `json:"block_id"`
	Timestamp    int64             `json:"timestamp"`
	ParentID     string            `json:"parent_id,omitempty"`
	FromParentID string            `json:"from_parent_id,omitempty"`
	ToParentID   string            `json:"to_parent_id,omitempty"`
	Index        *int              `json:"index,omitempty"`
	FromIndex    *int              `json:"from_index,omitempty"`
	ToIndex      *int              `json:"to_index,omitempty"`
	TypeKey      string            `json:"type_key,omitempty"`
	Name         *string           `json:"name,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	ChildrenIDs  map[string]string `json:"children_ids,omitempty"`
}

// Operations is an operation list with a JSON wire form.
type Operations []Operation

// MarshalJSON encodes each operation with its type discriminator.
func (ops Operations) MarshalJSON() ([]byte, error) {
	out := make([]operationJSON, 0, len(ops))
	for _, op := range ops {
		wire, err := encodeOperation(op)
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a list of operation envelopes.
func (ops *Operations) UnmarshalJSON(raw []byte) error {
	var wires []operationJSON
	if err := json.Unmarshal(raw, &wires); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	out := make(Operations, 0, len(wires))
	for idx, wire := range wires {
		op, err := decodeOperation(wire)
		if err != nil {
			return fmt.Errorf("operations[%d]: %w", idx, err)
		}
		out = append(out, op)
	}
	*ops = out
	return nil
}

// encodeOperation converts one operation into its wire envelope.
func encodeOperation(op Operation) (operationJSON, error) {
	header := op.Header()
	wire := operationJSON{Type: op.Kind(), BlockID: header.BlockID, Timestamp: header.Timestamp}
	switch v := op.(type) {
	case AddOperation:
		wire.ParentID = v.ParentID
		wire.Index = v.Index
		wire.TypeKey = v.TypeKey
		name := v.Name
		wire.Name = &name
		if v.Payload != nil {
			payload, err := MarshalPayload(v.Payload)
			if err != nil {
				return operationJSON{}, err
			}
			wire.Payload = payload
		}
	case UpdateOperation:
		wire.Name = v.Name
		if v.Payload != nil {
			payload, err := MarshalPayload(v.Payload)
			if err != nil {
				return operationJSON{}, err
			}
			wire.Payload = payload
		}
	case MoveOperation:
		wire.FromParentID = v.FromParentID
		wire.ToParentID = v.ToParentID
		wire.Index = v.Index
	case ReorderOperation:
		from, to := v.FromIndex, v.ToIndex
		wire.ParentID = v.ParentID
		wire.FromIndex = &from
		wire.ToIndex = &to
	case RemoveOperation:
		wire.ParentID = v.ParentID
		wire.ChildrenIDs = v.ChildrenIDs
	default:
		return operationJSON{}, fmt.Errorf("%w: unsupported operation %T", ErrInvalidOperation, op)
	}
	return wire, nil
}

// decodeOperation converts one wire envelope into its operation.
func decodeOperation(wire operationJSON) (Operation, error) {
	header := OperationHeader{BlockID: strings.TrimSpace(wire.BlockID), Timestamp: wire.Timestamp}
	payload, err := UnmarshalPayload(wire.Payload)
	if err != nil {
		return nil, err
	}
	var op Operation
	switch OperationKind(strings.TrimSpace(strings.ToUpper(string(wire.Type)))) {
	case OperationAdd:
		add := AddOperation{
			OperationHeader: header,
			ParentID:        strings.TrimSpace(wire.ParentID),
			Index:           wire.Index,
			TypeKey:         NormalizeTypeKey(wire.TypeKey),
			Payload:         payload,
		}
		if wire.Name != nil {
			add.Name = *wire.Name
		}
		op = add
	case OperationUpdate:
		op = UpdateOperation{OperationHeader: header, Name: wire.Name, Payload: payload}
	case OperationMove:
		op = MoveOperation{
			OperationHeader: header,
			FromParentID:    strings.TrimSpace(wire.FromParentID),
			ToParentID:      strings.TrimSpace(wire.ToParentID),
			Index:           wire.Index,
		}
	case OperationReorder:
		reorder := ReorderOperation{OperationHeader: header, ParentID: strings.TrimSpace(wire.ParentID)}
		if wire.FromIndex != nil {
			reorder.FromIndex = *wire.FromIndex
		}
		if wire.ToIndex == nil {
			return nil, fmt.Errorf("%w: REORDER %s requires to_index", ErrInvalidOperation, header.BlockID)
		}
		reorder.ToIndex = *wire.ToIndex
		op = reorder
	case OperationRemove:
		op = RemoveOperation{OperationHeader: header, ParentID: strings.TrimSpace(wire.ParentID), ChildrenIDs: wire.ChildrenIDs}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, wire.Type)
	}
	if err := ValidateOperation(op); err != nil {
		return nil, err
	}
	return op, nil
}
