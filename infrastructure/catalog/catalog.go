// Package catalog loads operator definitions from YAML and builds the
// registry the engine starts from.
package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/framefield/tooll-sub003/domain/config"
	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// File is the YAML document layout.
type File struct {
	// Root is the qualified name of the top-level composition. An empty
	// "Project" composition is created when it is not set.
	Root        string       `yaml:"root"`
	Definitions []Definition `yaml:"definitions" validate:"dive"`
}

type Definition struct {
	ID          uuid.UUID    `yaml:"id"`
	Name        string       `yaml:"name" validate:"required"`
	Namespace   string       `yaml:"namespace"`
	Description string       `yaml:"description"`
	Inputs      []Input      `yaml:"inputs" validate:"dive"`
	Outputs     []Output     `yaml:"outputs" validate:"dive"`
	Children    []Child      `yaml:"children" validate:"dive"`
	Connections []Connection `yaml:"connections" validate:"dive"`
}

type Input struct {
	ID          uuid.UUID `yaml:"id"`
	Name        string    `yaml:"name" validate:"required"`
	Type        string    `yaml:"type" validate:"required"`
	Default     any       `yaml:"default"`
	Multi       bool      `yaml:"multi"`
	Relevance   string    `yaml:"relevance" validate:"omitempty,oneof=required relevant optional"`
	Description string    `yaml:"description"`
	Min         *float64  `yaml:"min"`
	Max         *float64  `yaml:"max"`
	Scale       *float64  `yaml:"scale"`
	Scaling     string    `yaml:"scaling" validate:"omitempty,oneof=linear quadratic logarithmic"`
	Enum        []string  `yaml:"enum"`
}

type Output struct {
	ID   uuid.UUID `yaml:"id"`
	Name string    `yaml:"name" validate:"required"`
	Type string    `yaml:"type" validate:"required"`
}

// Child places a definition, referenced by qualified name, in the
// composition. Name is also the handle used by connections.
type Child struct {
	ID         uuid.UUID      `yaml:"id"`
	Name       string         `yaml:"name" validate:"required"`
	Definition string         `yaml:"definition" validate:"required"`
	X          float64        `yaml:"x"`
	Y          float64        `yaml:"y"`
	Values     map[string]any `yaml:"values"`
}

// Connection links "child.Port" or "self.Port" endpoints. Connections to the
// same target are inserted in file order.
type Connection struct {
	From string `yaml:"from" validate:"required,contains=."`
	To   string `yaml:"to" validate:"required,contains=."`
}

const selfName = "self"

// idSpace seeds the IDs derived for catalog entries that omit one, so the
// same file always builds the same graph and journals replay across restarts.
var idSpace = uuid.MustParse("6f1c9a52-2d4e-4f0b-9a7e-3c85d1e0b214")

func derivedID(id, parent uuid.UUID, kind, name string) uuid.UUID {
	if id != uuid.Nil {
		return id
	}
	return uuid.NewSHA1(parent, []byte(kind+":"+name))
}

var validate = validator.New()

// Parse decodes and validates a catalog document.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, pkgerrors.NewValidationErrorf("invalid catalog: %v", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, pkgerrors.NewValidationErrorf("invalid catalog: %v", err)
	}
	return &f, nil
}

// LoadFile parses the catalog at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "opening catalog %s", path)
	}
	defer fh.Close()
	return Parse(fh)
}

// Build creates a registry holding every catalog definition. Definitions are
// registered first so compositions may refer to any of them regardless of
// file order.
func (f *File) Build(rules *config.DomainConfig, logger *zap.Logger) (*aggregates.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defs := make([]*entities.Definition, len(f.Definitions))
	for i, d := range f.Definitions {
		def, err := d.toEntity()
		if err != nil {
			return nil, err
		}
		defs[i] = def
	}

	root, rest, err := f.pickRoot(defs)
	if err != nil {
		return nil, err
	}
	reg, err := aggregates.NewRegistry(root, rules)
	if err != nil {
		return nil, err
	}
	for _, def := range rest {
		if err := reg.AddDefinition(def); err != nil {
			return nil, err
		}
	}

	for i, d := range f.Definitions {
		if err := d.compose(reg, defs[i].ID); err != nil {
			return nil, pkgerrors.Wrapf(err, "composing %s", defs[i].QualifiedName())
		}
	}

	logger.Info("Catalog loaded",
		zap.Int("definitions", len(defs)),
		zap.String("root", root.QualifiedName()),
	)
	return reg, nil
}

func (f *File) pickRoot(defs []*entities.Definition) (*entities.Definition, []*entities.Definition, error) {
	if f.Root == "" {
		root, err := entities.NewDefinition(derivedID(uuid.Nil, idSpace, "definition", "user.Project"), "Project", "user")
		return root, defs, err
	}
	for i, def := range defs {
		if def.QualifiedName() == f.Root {
			rest := append(append([]*entities.Definition(nil), defs[:i]...), defs[i+1:]...)
			return def, rest, nil
		}
	}
	return nil, nil, pkgerrors.NewValidationErrorf("root %q is not defined in the catalog", f.Root)
}

func (d Definition) toEntity() (*entities.Definition, error) {
	qualified := d.Name
	if d.Namespace != "" {
		qualified = d.Namespace + "." + d.Name
	}
	def, err := entities.NewDefinition(derivedID(d.ID, idSpace, "definition", qualified), d.Name, d.Namespace)
	if err != nil {
		return nil, err
	}
	def.Description = d.Description

	for i, in := range d.Inputs {
		port, err := in.toEntity(def.ID)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "%s input %q", d.Name, in.Name)
		}
		if err := def.InsertInput(port, i); err != nil {
			return nil, err
		}
	}
	for i, out := range d.Outputs {
		kind, err := valueobjects.ParseValueKind(out.Type)
		if err != nil {
			return nil, pkgerrors.NewValidationErrorf("%s output %q: %v", d.Name, out.Name, err)
		}
		port := entities.NewOutputDefinition(out.Name, kind)
		port.ID = derivedID(out.ID, def.ID, "output", out.Name)
		if err := def.InsertOutput(port, i); err != nil {
			return nil, err
		}
	}
	return def, nil
}

func (in Input) toEntity(defID uuid.UUID) (entities.InputDefinition, error) {
	kind, err := valueobjects.ParseValueKind(in.Type)
	if err != nil {
		return entities.InputDefinition{}, pkgerrors.NewValidationError(err.Error())
	}
	def, err := parseValue(kind, in.Default)
	if err != nil {
		return entities.InputDefinition{}, err
	}

	port := entities.NewInputDefinition(in.Name, kind, def)
	port.ID = derivedID(in.ID, defID, "input", in.Name)
	port.MultiInput = in.Multi
	port.Description = in.Description
	if in.Relevance != "" {
		port.Relevance = valueobjects.Relevance(in.Relevance)
	}
	if in.Scaling != "" {
		port.Scaling = valueobjects.Scaling(in.Scaling)
	}
	if in.Min != nil {
		port.Min = *in.Min
	}
	if in.Max != nil {
		port.Max = *in.Max
	}
	if in.Scale != nil {
		port.Scale = *in.Scale
	}
	if port.Min > port.Max {
		return entities.InputDefinition{}, pkgerrors.NewValidationErrorf("min %v exceeds max %v", port.Min, port.Max)
	}
	if len(in.Enum) > 0 {
		port.EnumValues = append([]string(nil), in.Enum...)
	}
	return port, nil
}

// parseValue turns a YAML scalar into a value of kind. Resource kinds take
// the scalar as their handle.
func parseValue(kind valueobjects.ValueKind, raw any) (valueobjects.Value, error) {
	if raw == nil {
		return valueobjects.Zero(kind), nil
	}
	switch kind {
	case valueobjects.KindFloat:
		switch n := raw.(type) {
		case int:
			return valueobjects.Float(float64(n)), nil
		case float64:
			return valueobjects.Float(n), nil
		}
		return valueobjects.Value{}, pkgerrors.NewValidationErrorf("%v is not a number", raw)
	case valueobjects.KindText:
		return valueobjects.Text(fmt.Sprint(raw)), nil
	default:
		return valueobjects.Resource(kind, fmt.Sprint(raw)), nil
	}
}

func (d Definition) compose(reg *aggregates.Registry, defID uuid.UUID) error {
	if len(d.Children) == 0 && len(d.Connections) == 0 {
		return nil
	}
	scope := aggregates.Scope{Composition: defID}
	byName := make(map[string]*entities.Instance, len(d.Children))

	for _, c := range d.Children {
		if _, dup := byName[c.Name]; dup || c.Name == selfName {
			return pkgerrors.NewValidationErrorf("child name %q is not unique", c.Name)
		}
		childDef, err := reg.DefinitionByName(c.Definition)
		if err != nil {
			return err
		}
		inst := entities.NewInstance(childDef.ID, valueobjects.NewPosition(c.X, c.Y), reg.Rules().DefaultOperatorWidth)
		inst.ID = derivedID(c.ID, defID, "child", c.Name)
		inst.Name = c.Name
		for name, raw := range c.Values {
			in, _ := childDef.InputByName(name)
			if in == nil {
				return pkgerrors.NewNotFoundError(fmt.Sprintf("input %q of %s", name, childDef.Name))
			}
			v, err := parseValue(in.Type, raw)
			if err != nil {
				return err
			}
			inst.SetOverride(in.ID, v)
		}
		if err := reg.AddInstance(scope, inst); err != nil {
			return err
		}
		byName[c.Name] = inst
	}

	comp, err := reg.ResolveComposition(scope)
	if err != nil {
		return err
	}
	for i, c := range d.Connections {
		src, err := endpoint(reg, comp, byName, c.From, true)
		if err != nil {
			return err
		}
		dst, err := endpoint(reg, comp, byName, c.To, false)
		if err != nil {
			return err
		}
		conn := entities.NewConnection(src.Op, src.Port, dst.Op, dst.Port)
		conn.ID = derivedID(uuid.Nil, defID, "connection", fmt.Sprintf("%d:%s>%s", i, c.From, c.To))
		if err := reg.InsertConnection(scope, conn, comp.Connections.Count(dst)); err != nil {
			return pkgerrors.Wrapf(err, "%s -> %s", c.From, c.To)
		}
	}
	return nil
}

// endpoint resolves "name.Port". A source names an output of a child or an
// input of the composition itself, a target the reverse.
func endpoint(reg *aggregates.Registry, comp *entities.Definition, byName map[string]*entities.Instance, ref string, source bool) (entities.PortRef, error) {
	owner, port, _ := strings.Cut(ref, ".")
	if owner == selfName {
		if source {
			if in, _ := comp.InputByName(port); in != nil {
				return entities.PortRef{Op: valueobjects.Self, Port: in.ID}, nil
			}
		} else {
			for _, out := range comp.Outputs {
				if out.Name == port {
					return entities.PortRef{Op: valueobjects.Self, Port: out.ID}, nil
				}
			}
		}
		return entities.PortRef{}, pkgerrors.NewNotFoundError(fmt.Sprintf("port %q of %s", port, comp.Name))
	}

	inst, ok := byName[owner]
	if !ok {
		return entities.PortRef{}, pkgerrors.NewNotFoundError(fmt.Sprintf("child %q", owner))
	}
	def, err := reg.Definition(inst.DefinitionID)
	if err != nil {
		return entities.PortRef{}, err
	}
	if source {
		for _, out := range def.Outputs {
			if out.Name == port {
				return entities.PortRef{Op: inst.ID, Port: out.ID}, nil
			}
		}
	} else if in, _ := def.InputByName(port); in != nil {
		return entities.PortRef{Op: inst.ID, Port: in.ID}, nil
	}
	return entities.PortRef{}, pkgerrors.NewNotFoundError(fmt.Sprintf("port %q of %s", port, owner))
}
