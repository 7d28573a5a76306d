package analysis

import (
	"fmt"
	"strings"

	"call-pipeline-go/internal/types"
)

const summarySystem = `Eres un analista de calidad de un centro de contacto.
Usa únicamente la información presente en la transcripción. No inventes datos, montos ni nombres.`

const defaultSummaryInstruction = `Resume la siguiente llamada en un párrafo de 3 a 5 oraciones:
motivo de la llamada, lo que ofreció o resolvió el asesor y cómo terminó.`

func summaryPrompt(transcript, custom string) string {
	instruction := defaultSummaryInstruction
	if strings.TrimSpace(custom) != "" {
		instruction = custom
	}
	return fmt.Sprintf("%s\n\nTRANSCRIPCIÓN:\n%s", instruction, transcript)
}

const topicSystem = `Clasificas llamadas de un centro de contacto. Responde solo con el nombre exacto de una categoría.`

func topicPrompt(transcript, summary string) string {
	return fmt.Sprintf(`Categorías permitidas: %s.
Si ninguna aplica responde "%s".

RESUMEN:
%s

TRANSCRIPCIÓN (extracto):
%s`, strings.Join(Topics, ", "), OtherTopic, summary, Excerpt(transcript, 3000))
}

const feedbackSystem = `Eres un coach de calidad de un centro de contacto. Evalúas al asesor con base en la transcripción.`

const defaultFeedbackInstruction = `Evalúa el desempeño del asesor en la llamada.`

const feedbackSchema = `Devuelve SOLO un objeto JSON con esta forma:
{
  "score": 0,
  "positive": [],
  "negative": [],
  "opportunities": [],
  "sentiment": "positive | negative | neutral",
  "entities": [],
  "topics": [],
  "behavior_analysis": [{"behavior_id": "", "name": "", "compliant": false, "comment": ""}]
}
"score" es un entero de 0 a 100.`

// FeedbackInput carries everything the feedback stage looks at.
type FeedbackInput struct {
	Transcript   string
	Summary      string
	Topic        string
	CustomPrompt string
	Behaviors    []types.Behavior
}

func feedbackPrompt(in FeedbackInput) string {
	var b strings.Builder
	if strings.TrimSpace(in.CustomPrompt) != "" {
		b.WriteString(in.CustomPrompt)
	} else {
		b.WriteString(defaultFeedbackInstruction)
	}
	b.WriteString("\n\n")
	b.WriteString(feedbackSchema)

	if len(in.Behaviors) > 0 {
		b.WriteString("\n\nComportamientos a evaluar (usa el mismo behavior_id):\n")
		for _, bh := range in.Behaviors {
			fmt.Fprintf(&b, "- %s | %s: %s\n", bh.ID, bh.Name, bh.Description)
		}
	}

	fmt.Fprintf(&b, "\nTEMA: %s\nRESUMEN:\n%s\n\nTRANSCRIPCIÓN:\n%s", in.Topic, in.Summary, in.Transcript)
	return b.String()
}
