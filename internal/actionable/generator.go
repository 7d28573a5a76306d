package actionable

import (
	"fmt"
	"sort"

	"call-pipeline-go/internal/aggregator"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	complianceFloor   = 0.65
	negativeRateLimit = 0.35
	scoreFloor        = 60
	minCalls          = 3
)

// Generate picks the single most pressing coaching action for an account.
func Generate(ins aggregator.Insight) ActionCard {
	if ins.Calls < minCalls {
		return ActionCard{
			Insight: fmt.Sprintf("Solo %d llamadas evaluadas", ins.Calls),
			Action:  "Seguir procesando llamadas antes de sacar conclusiones",
			Impact:  "Sin intervención inmediata",
		}
	}

	worst := ""
	lowest := 1.0
	names := make([]string, 0, len(ins.BehaviorCompliance))
	for b := range ins.BehaviorCompliance {
		names = append(names, b)
	}
	sort.Strings(names)
	for _, b := range names {
		if v := ins.BehaviorCompliance[b]; v < lowest {
			lowest = v
			worst = b
		}
	}
	if worst != "" && lowest < complianceFloor {
		return ActionCard{
			Insight: fmt.Sprintf("Bajo cumplimiento de \"%s\" (%.0f%%)", worst, lowest*100),
			Action:  fmt.Sprintf("Sesión de coaching enfocada en \"%s\" con ejemplos de llamadas reales", worst),
			Impact:  "Mejora directa del puntaje de calidad del equipo",
		}
	}

	if ins.NegativeRate >= negativeRateLimit {
		return ActionCard{
			Insight: fmt.Sprintf("%.0f%% de las llamadas terminan con sentimiento negativo", ins.NegativeRate*100),
			Action:  "Revisar el manejo de objeciones y escalar los casos recurrentes al supervisor",
			Impact:  "Menos reclamos y cancelaciones",
		}
	}

	if ins.AverageScore < scoreFloor {
		action := "Reforzar el guion de llamada"
		if len(ins.TopOpportunities) > 0 {
			action = fmt.Sprintf("Trabajar la oportunidad más frecuente: %s", ins.TopOpportunities[0])
		}
		return ActionCard{
			Insight: fmt.Sprintf("Puntaje promedio de %.0f sobre 100", ins.AverageScore),
			Action:  action,
			Impact:  "Subir el puntaje promedio por encima de 60",
		}
	}

	return ActionCard{
		Insight: "No se detecta un patrón problemático",
		Action:  "Mantener el monitoreo",
		Impact:  "Sin intervención inmediata",
	}
}
