package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

var validate = validator.New()

// Intent asks for an operation by name. Unlike a Record it carries no
// captured state: Build runs the operation's constructor against the live
// registry, which checks the request and captures the prior state itself.
type Intent struct {
	Operation string          `json:"operation" validate:"required"`
	Params    json.RawMessage `json:"params" validate:"required"`
}

// Build constructs the command the intent names. A zero scope addresses the
// root composition.
func (i Intent) Build(r *aggregates.Registry) (Command, error) {
	build, ok := intentBuilders[i.Operation]
	if !ok {
		return nil, pkgerrors.NewValidationErrorf("unknown operation %q", i.Operation)
	}
	return build(r, i.Params)
}

// Operations lists the operation names Build accepts, sorted.
func Operations() []string {
	names := make([]string, 0, len(intentBuilders))
	for name := range intentBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type intentBuilder func(r *aggregates.Registry, params json.RawMessage) (Command, error)

// intent decodes and validates params into P before calling build.
func intent[P any](build func(r *aggregates.Registry, p P) (Command, error)) intentBuilder {
	return func(r *aggregates.Registry, params json.RawMessage) (Command, error) {
		var p P
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, pkgerrors.NewValidationError(fmt.Sprintf("decoding params: %v", err))
		}
		if err := validate.Struct(p); err != nil {
			return nil, pkgerrors.NewValidationError("invalid params: " + err.Error())
		}
		return build(r, p)
	}
}

// built drops the typed nil a failed constructor returns next to its error.
func built[C Command](c C, err error) (Command, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scopeOrRoot(r *aggregates.Registry, s Scope) Scope {
	if s.Composition == uuid.Nil {
		return r.RootScope()
	}
	return s
}

// Scopes are optional here, so their required tags are not checked.
type scopedParams struct {
	Scope Scope `json:"scope" validate:"-"`
}

type operatorParams struct {
	scopedParams
	Definition uuid.UUID             `json:"definition" validate:"required"`
	Position   valueobjects.Position `json:"position"`
}

type operatorsParams struct {
	scopedParams
	Operators []uuid.UUID `json:"operators" validate:"required,min=1"`
}

type copyParams struct {
	From      Scope                 `json:"from" validate:"-"`
	To        Scope                 `json:"to" validate:"-"`
	Operators []uuid.UUID           `json:"operators" validate:"required,min=1"`
	Position  valueobjects.Position `json:"position"`
}

type connectionParams struct {
	scopedParams
	Source entities.PortRef `json:"source"`
	Target entities.PortRef `json:"target"`
	Index  int              `json:"index" validate:"gte=0"`
}

type insertOperatorParams struct {
	scopedParams
	Definition uuid.UUID        `json:"definition" validate:"required"`
	Target     entities.PortRef `json:"target"`
	Index      int              `json:"index" validate:"gte=0"`
}

type inputParams struct {
	scopedParams
	InputRef
}

type valueParams struct {
	inputParams
	Value valueobjects.Value `json:"value"`
}

type animationParams struct {
	scopedParams
	Inputs []InputRef `json:"inputs" validate:"required,min=1,dive"`
	Time   float64    `json:"time"`
}

type keyframeParams struct {
	inputParams
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

type moveKeyframeParams struct {
	scopedParams
	CurveOp uuid.UUID `json:"curveOp" validate:"required"`
	From    float64   `json:"from"`
	To      float64   `json:"to"`
}

type keyframesParams struct {
	scopedParams
	Keys []KeyRef `json:"keys" validate:"required,min=1"`
}

type replaceOperatorParams struct {
	scopedParams
	Instance   uuid.UUID `json:"instance" validate:"required"`
	Definition uuid.UUID `json:"definition" validate:"required"`
}

type combineParams struct {
	operatorsParams
	Name        string                `json:"name" validate:"required"`
	Namespace   string                `json:"namespace"`
	Description string                `json:"description"`
	Position    valueobjects.Position `json:"position"`
}

type instanceParams struct {
	scopedParams
	Instance uuid.UUID `json:"instance" validate:"required"`
}

type addInputParams struct {
	Definition uuid.UUID          `json:"definition" validate:"required"`
	Name       string             `json:"name" validate:"required"`
	Type       string             `json:"type" validate:"required"`
	Default    valueobjects.Value `json:"default"`
}

type removeInputParams struct {
	Definition uuid.UUID `json:"definition" validate:"required"`
	Input      uuid.UUID `json:"input" validate:"required"`
}

type publishParams struct {
	inputParams
	Name string `json:"name" validate:"required"`
}

var intentBuilders = map[string]intentBuilder{
	typeAddOperator: intent(func(r *aggregates.Registry, p operatorParams) (Command, error) {
		return built(NewAddOperator(r, scopeOrRoot(r, p.Scope), p.Definition, p.Position))
	}),
	typeDeleteOperators: intent(func(r *aggregates.Registry, p operatorsParams) (Command, error) {
		return built(NewDeleteOperators(r, scopeOrRoot(r, p.Scope), p.Operators))
	}),
	typeDuplicateOperators: intent(func(r *aggregates.Registry, p operatorsParams) (Command, error) {
		return built(NewDuplicateOperators(r, scopeOrRoot(r, p.Scope), p.Operators))
	}),
	typeCopyOperators: intent(func(r *aggregates.Registry, p copyParams) (Command, error) {
		return built(NewCopyOperators(r, scopeOrRoot(r, p.From), p.Operators, scopeOrRoot(r, p.To), p.Position))
	}),
	typeInsertConnection: intent(func(r *aggregates.Registry, p connectionParams) (Command, error) {
		conn := entities.NewConnection(p.Source.Op, p.Source.Port, p.Target.Op, p.Target.Port)
		return built(NewInsertConnection(r, scopeOrRoot(r, p.Scope), conn, p.Index))
	}),
	typeRemoveConnection: intent(func(r *aggregates.Registry, p connectionParams) (Command, error) {
		return built(NewRemoveConnection(r, scopeOrRoot(r, p.Scope), p.Target, p.Index))
	}),
	typeReplaceConnection: intent(func(r *aggregates.Registry, p connectionParams) (Command, error) {
		return built(NewReplaceConnection(r, scopeOrRoot(r, p.Scope), p.Target, p.Index, p.Source))
	}),
	typeInsertOperator: intent(func(r *aggregates.Registry, p insertOperatorParams) (Command, error) {
		return built(NewInsertOperator(r, scopeOrRoot(r, p.Scope), p.Definition, p.Target, p.Index))
	}),
	typeReplaceOperator: intent(func(r *aggregates.Registry, p replaceOperatorParams) (Command, error) {
		return built(NewReplaceOperator(r, scopeOrRoot(r, p.Scope), p.Instance, p.Definition))
	}),
	typeSetValue: intent(func(r *aggregates.Registry, p valueParams) (Command, error) {
		return built(NewSetValue(r, scopeOrRoot(r, p.Scope), p.Instance, p.Input, p.Value))
	}),
	typeResetInputToDefault: intent(func(r *aggregates.Registry, p inputParams) (Command, error) {
		return built(NewResetInputToDefault(r, scopeOrRoot(r, p.Scope), p.Instance, p.Input))
	}),
	typeSetInputAsDefault: intent(func(r *aggregates.Registry, p inputParams) (Command, error) {
		return built(NewSetInputAsDefault(r, scopeOrRoot(r, p.Scope), p.Instance, p.Input))
	}),
	typePublishAsInput: intent(func(r *aggregates.Registry, p publishParams) (Command, error) {
		return built(NewPublishAsInput(r, scopeOrRoot(r, p.Scope), p.Instance, p.Input, p.Name))
	}),
	typeSetupAnimation: intent(func(r *aggregates.Registry, p animationParams) (Command, error) {
		return built(NewSetupAnimation(r, scopeOrRoot(r, p.Scope), p.Inputs, p.Time))
	}),
	typeAddOrUpdateKeyframe: intent(func(r *aggregates.Registry, p keyframeParams) (Command, error) {
		return built(NewAddOrUpdateKeyframeForInput(r, scopeOrRoot(r, p.Scope), p.Instance, p.Input, p.Time, p.Value))
	}),
	typeMoveKeyframe: intent(func(r *aggregates.Registry, p moveKeyframeParams) (Command, error) {
		return built(NewMoveKeyframe(r, scopeOrRoot(r, p.Scope), p.CurveOp, p.From, p.To))
	}),
	typeRemoveKeyframes: intent(func(r *aggregates.Registry, p keyframesParams) (Command, error) {
		return built(NewRemoveKeyframes(r, scopeOrRoot(r, p.Scope), p.Keys, r.Rules().AnimationReferenceTime))
	}),
	typeCombineToNewOperator: intent(func(r *aggregates.Registry, p combineParams) (Command, error) {
		return built(NewCombineToNewOperator(r, scopeOrRoot(r, p.Scope), p.Operators, p.Name, p.Namespace, p.Description, p.Position))
	}),
	typeUngroupOperator: intent(func(r *aggregates.Registry, p instanceParams) (Command, error) {
		return built(NewUngroupOperator(r, scopeOrRoot(r, p.Scope), p.Instance))
	}),
	typeAddInput: intent(func(r *aggregates.Registry, p addInputParams) (Command, error) {
		kind, err := valueobjects.ParseValueKind(p.Type)
		if err != nil {
			return nil, pkgerrors.NewValidationError(err.Error())
		}
		return built(NewAddInput(r, p.Definition, p.Name, kind, p.Default))
	}),
	typeRemoveInput: intent(func(r *aggregates.Registry, p removeInputParams) (Command, error) {
		return built(NewRemoveInput(r, p.Definition, p.Input))
	}),
}
