package aggregates

import (
	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
)

// Identifiers of the built-in animation operators.
var (
	CurveDefinitionID       = uuid.MustParse("145c3a6b-b91f-450d-ac46-b13c66ebce19")
	CurveTimeInputID        = uuid.MustParse("6a1cd1f8-7c0e-4f2e-9e32-5c4a1f0b6e01")
	CurveValueOutputID      = uuid.MustParse("6a1cd1f8-7c0e-4f2e-9e32-5c4a1f0b6e02")
	CurrentTimeDefinitionID = uuid.MustParse("253e302b-8141-4d17-96ee-42af092dbf59")
	CurrentTimeOutputID     = uuid.MustParse("253e302b-8141-4d17-96ee-42af092dbf5a")
)

// IsBuiltin reports whether id names a built-in definition.
func IsBuiltin(id uuid.UUID) bool {
	return id == CurveDefinitionID || id == CurrentTimeDefinitionID
}

func builtinDefinitions() []*entities.Definition {
	curveDef, _ := entities.NewDefinition(CurveDefinitionID, "Curve", "lib.animation")
	timeInput := entities.NewInputDefinition("Time", valueobjects.KindFloat, valueobjects.Float(0))
	timeInput.ID = CurveTimeInputID
	timeInput.Relevance = valueobjects.RelevanceRequired
	curveDef.Inputs = append(curveDef.Inputs, timeInput)
	curveDef.Outputs = append(curveDef.Outputs, entities.OutputDefinition{
		ID: CurveValueOutputID, Name: "Value", Type: valueobjects.KindFloat,
	})

	timeDef, _ := entities.NewDefinition(CurrentTimeDefinitionID, "CurrentTime", "lib.animation")
	timeDef.Outputs = append(timeDef.Outputs, entities.OutputDefinition{
		ID: CurrentTimeOutputID, Name: "Time", Type: valueobjects.KindFloat,
	})

	return []*entities.Definition{curveDef, timeDef}
}
