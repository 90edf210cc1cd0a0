package commands

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// RecordVersion is the payload layout version written by Encode.
const RecordVersion = 1

// Record is the serialized form of a command.
type Record struct {
	Type    string          `json:"type" validate:"required"`
	Version int             `json:"version" validate:"gte=1"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

var factories = map[string]func() Command{
	typeInsertConnection:         func() Command { return &InsertConnection{} },
	typeRemoveConnection:         func() Command { return &RemoveConnection{} },
	typeAddOperator:              func() Command { return &AddOperator{} },
	typeDeleteOperators:          func() Command { return &DeleteOperators{} },
	typeUpdateOperatorProperties: func() Command { return &UpdateOperatorProperties{} },
	typeRenameNamespace:          func() Command { return &RenameNamespace{} },
	typeReplaceOperator:          func() Command { return &ReplaceOperator{} },
	typeAddOrUpdateKeyframe:      func() Command { return &AddOrUpdateKeyframe{} },
	typeMoveKeyframe:             func() Command { return &MoveKeyframe{} },
	typeRemoveKeyframes:          func() Command { return &RemoveKeyframes{} },
	typeSetValue:                 func() Command { return &SetValue{} },
	typeResetInputToDefault:      func() Command { return &ResetInputToDefault{} },
	typeSetInputAsDefault:        func() Command { return &SetInputAsDefault{} },
	typeAddInput:                 func() Command { return &AddInput{} },
	typeRemoveInput:              func() Command { return &RemoveInput{} },
	typeReorderInputs:            func() Command { return &ReorderInputs{} },
	typeUpdateInputParameter:     func() Command { return &UpdateInputParameter{} },
	typeCombineToNewOperator:     func() Command { return &CombineToNewOperator{} },
	typeUngroupOperator:          func() Command { return &UngroupOperator{} },
}

func init() {
	for _, typ := range []string{
		typeMacro,
		typeReplaceConnection,
		typeInsertOperator,
		typeAddAndConnect,
		typeDuplicateOperators,
		typeCopyOperators,
		typeSetupAnimation,
		typeRemoveAnimation,
		typeSetInputAsAndResetToDefault,
		typeSetValueGroup,
		typeResetInputGroup,
		typePublishAsInput,
	} {
		factories[typ] = func() Command { return &Macro{} }
	}
}

// Encode serializes a command with its captured state.
func Encode(c Command) (Record, error) {
	if _, ok := factories[c.CommandType()]; !ok {
		return Record{}, pkgerrors.NewValidationErrorf("command type %q is not serializable", c.CommandType())
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return Record{}, pkgerrors.Wrapf(err, "encoding %s", c.CommandType())
	}
	return Record{Type: c.CommandType(), Version: RecordVersion, Payload: payload}, nil
}

// Decode rebuilds a command from a record.
func Decode(rec Record) (Command, error) {
	if rec.Version != RecordVersion {
		return nil, pkgerrors.NewValidationErrorf("unsupported record version %d", rec.Version)
	}
	factory, ok := factories[rec.Type]
	if !ok {
		return nil, pkgerrors.NewValidationErrorf("unknown command type %q", rec.Type)
	}
	c := factory()
	if err := json.Unmarshal(rec.Payload, c); err != nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("decoding %s: %v", rec.Type, err))
	}
	if c.CommandType() != rec.Type {
		return nil, pkgerrors.NewValidationErrorf("record type %q holds a %q", rec.Type, c.CommandType())
	}
	return c, nil
}

type macroJSON struct {
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Children []Record `json:"children"`
}

// MarshalJSON writes the children as nested records.
func (m *Macro) MarshalJSON() ([]byte, error) {
	out := macroJSON{Type: m.Type, Label: m.Label, Children: make([]Record, 0, len(m.Children))}
	for _, child := range m.Children {
		rec, err := Encode(child)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, rec)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads children written by MarshalJSON.
func (m *Macro) UnmarshalJSON(data []byte) error {
	var in macroJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Type, m.Label, m.Children = in.Type, in.Label, nil
	if m.Type == "" {
		m.Type = typeMacro
	}
	for _, rec := range in.Children {
		child, err := Decode(rec)
		if err != nil {
			return err
		}
		m.Children = append(m.Children, child)
	}
	return nil
}
